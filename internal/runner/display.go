package runner

import (
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// printStartup renders the configuration table shown once at boot
func (r *Runner) printStartup() {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("MARTINGALE LADDER BOT")
	t.SetStyle(table.StyleRounded)

	t.AppendRows([]table.Row{
		{"📊 Symbol", r.cfg.Strategy.Symbol},
		{"🏪 Category", r.cfg.Exchange.Category},
		{"💰 Total Capital", fmt.Sprintf("$%.2f", r.cfg.Strategy.TotalCapital)},
		{"🪜 Max Layers", fmt.Sprintf("%d", r.cfg.Strategy.MaxLayers)},
		{"🔄 Multiplier", fmt.Sprintf("%.2f", r.cfg.Strategy.Multiplier)},
		{"📉 Price Step", fmt.Sprintf("%.2f%%", r.cfg.Strategy.PriceStepDown*100)},
		{"🎯 Take Profit", fmt.Sprintf("%.2f%%", r.cfg.Strategy.TakeProfitPct*100)},
	})

	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"🛑 Max Loss", fmt.Sprintf("%.2f%%", r.cfg.Risk.MaxLossPct*100)},
		{"⏰ Tick Interval", r.cfg.Runtime.TickInterval.Std().String()},
		{"📜 Completed Cycles", fmt.Sprintf("%d", r.store.TotalCycles())},
	})

	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 20, WidthMax: 20, Align: text.AlignLeft},
		{Number: 2, WidthMin: 20, WidthMax: 35, Align: text.AlignLeft},
	})

	t.Render()
	fmt.Println()
}

// printStatus renders the periodic status table
func (r *Runner) printStatus(price float64) {
	pos := r.track.GetPosition()

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("STATUS - %s", r.cfg.Strategy.Symbol)
	t.SetStyle(table.StyleRounded)

	t.AppendRows([]table.Row{
		{"💰 Price", fmt.Sprintf("$%.4f", price)},
		{"🧭 State", string(r.State())},
		{"📦 Position", fmt.Sprintf("%.6f", pos.TotalQuantity)},
		{"📈 Avg Entry", fmt.Sprintf("$%.4f", pos.AverageEntryPrice)},
		{"🪜 Open Orders", fmt.Sprintf("%d", r.track.OpenCount())},
	})

	t.AppendSeparator()
	streamState := "🔌 offline (polling)"
	if r.streamConnected() {
		streamState = "✅ connected"
	}
	t.AppendRows([]table.Row{
		{"📡 Stream", streamState},
		{"🔁 Cycle", fmt.Sprintf("#%d", pos.CycleID)},
		{"💵 Total Profit", fmt.Sprintf("$%.4f", r.store.TotalProfit())},
	})

	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 16, WidthMax: 16, Align: text.AlignLeft},
		{Number: 2, WidthMin: 20, WidthMax: 30, Align: text.AlignLeft},
	})

	t.Render()
	fmt.Println()
}
