package logo

import (
	"github.com/pterm/pterm"
	"github.com/pterm/pterm/putils"
)

// Display prints the Timesheet banner.
func Display() {
	s, _ := pterm.DefaultBigText.WithLetters(
		putils.LettersFromStringWithStyle("Time", pterm.FgCyan.ToStyle()),
		putils.LettersFromStringWithStyle("sheet", pterm.FgLightMagenta.ToStyle())).Srender()
	pterm.DefaultCenter.Println(s)
	pterm.DefaultCenter.WithCenterEachLineSeparately().
		Println("Invoices issued and paid between\ncontractors and companies,\nnotarised and attested.")
}
