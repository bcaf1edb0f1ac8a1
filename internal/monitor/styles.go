package monitor

import (
	"fmt"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/lipgloss"
)

const (
	sparklineWidth  = 30
	sparklineHeight = 3
	progressWidth   = 40
)

// ANSI 256 palette.
const (
	colorAccent = lipgloss.Color("111")
	colorLabel  = lipgloss.Color("146")
	colorText   = lipgloss.Color("255")
	colorMuted  = lipgloss.Color("244")
	colorOK     = lipgloss.Color("114")
	colorWarn   = lipgloss.Color("179")
	colorFail   = lipgloss.Color("203")
	colorBorder = lipgloss.Color("60")
)

func fg(c lipgloss.Color) lipgloss.Style { return lipgloss.NewStyle().Foreground(c) }

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("16")).
			Background(colorAccent).
			Bold(true).
			Padding(0, 1)
	sectionStyle = fg(colorAccent).Bold(true).MarginTop(1)
	labelStyle   = fg(colorLabel)
	valueStyle   = fg(colorText).Bold(true)
	dimStyle     = fg(colorMuted)

	healthyStyle = fg(colorOK).Bold(true)
	warningStyle = fg(colorWarn).Bold(true)
	errorStyle   = fg(colorFail).Bold(true)

	containerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(1, 2)
	footerStyle    = fg(colorMuted).MarginTop(1)
	footerKeyStyle = fg(colorAccent).Bold(true)
	sparklineStyle = fg(colorAccent)
)

// createSparkline charts data, oldest first.
func createSparkline(data []float64) string {
	if len(data) == 0 {
		return dimStyle.Render(fmt.Sprintf("%*s", sparklineWidth, "no data"))
	}
	spark := sparkline.New(sparklineWidth, sparklineHeight)
	spark.PushAll(data)
	spark.Draw()
	return sparklineStyle.Render(spark.View())
}
