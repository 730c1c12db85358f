package runner

import (
	"fmt"
	"os"

	"github.com/ducminhle1904/martingale-ladder-bot/internal/config"
)

// RiskGuard decides, per tick, whether the bot must liquidate. Two
// triggers exist: an external kill-switch file and a drawdown limit on
// the held position.
type RiskGuard struct {
	maxLossPct     float64
	killSwitchFile string
}

// NewRiskGuard creates a guard from the risk configuration
func NewRiskGuard(cfg config.RiskConfig) *RiskGuard {
	return &RiskGuard{
		maxLossPct:     cfg.MaxLossPct,
		killSwitchFile: cfg.KillSwitchFile,
	}
}

// Check returns a human-readable reason and true when an emergency
// liquidation is required.
func (g *RiskGuard) Check(currentPrice, avgEntryPrice, quantity float64) (string, bool) {
	if g.killSwitchActive() {
		return fmt.Sprintf("kill switch file %s present", g.killSwitchFile), true
	}

	if quantity > 0 && avgEntryPrice > 0 {
		drawdown := (currentPrice - avgEntryPrice) / avgEntryPrice
		if drawdown <= g.maxLossPct {
			return fmt.Sprintf("drawdown %.2f%% breached limit %.2f%%", drawdown*100, g.maxLossPct*100), true
		}
	}
	return "", false
}

func (g *RiskGuard) killSwitchActive() bool {
	if g.killSwitchFile == "" {
		return false
	}
	_, err := os.Stat(g.killSwitchFile)
	return err == nil
}
