package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
	"github.com/pricefinder/pricefinder/internal/bridge"
	"github.com/pricefinder/pricefinder/internal/product"
)

var (
	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Bold(true)

	assistantStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("212"))

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))
)

func renderFailure(w io.Writer, res bridge.Result) error {
	fmt.Fprintln(w, errorStyle.Render("❌ "+string(res.Kind)+":"), res.Error)
	return errAgentCall
}

func renderChat(w io.Writer, message string, res bridge.Result) error {
	fmt.Fprintln(w, userStyle.Render("나: ")+message)
	if res.Failed() {
		return renderFailure(w, res)
	}
	reply := res.Response
	if !res.HasResponse {
		reply = dimStyle.Render("(no response)")
	}
	fmt.Fprintln(w, assistantStyle.Render("PriceFinder: ")+reply)
	return nil
}

func renderSearch(w io.Writer, query string, res bridge.Result) error {
	fmt.Fprintln(w, headerStyle.Render("🔍 "+query))
	if res.Failed() {
		return renderFailure(w, res)
	}
	if res.Message != "" {
		fmt.Fprintln(w, res.Message)
	}
	if len(res.Products) == 0 {
		fmt.Fprintln(w, dimStyle.Render("No products found."))
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tNAME\tPRICE\tSTORE")
	for _, row := range product.Compare(res.Products) {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", row.Rank, row.Name, row.Price, row.Store)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	s := product.Summarize(res.Products)
	if s.PriceCount > 0 {
		fmt.Fprintln(w, dimStyle.Render(fmt.Sprintf("%d products · avg %s · min %s · max %s", s.Count, s.Average, s.Min, s.Max)))
	}
	return nil
}
