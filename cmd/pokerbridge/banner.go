package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"
)

type bannerInfo struct {
	Mode     string
	Identity string
	Addr     string
	Channel  string
	Engine   string
	Lead     bool
	Metrics  string
}

func roleLine(info bannerInfo) string {
	switch info.Mode {
	case "room":
		return "room (broadcast hub)"
	case "table":
		return "table (engine bridge)"
	case "player":
		if info.Lead {
			return "player (lead)"
		}
		return "player"
	case "forum":
		return "table (forum bridge)"
	default:
		return info.Mode
	}
}

func banner(w io.Writer, info bannerInfo) {
	head := color.New(color.FgGreen, color.Bold).SprintFunc()
	key := color.New(color.FgCyan).SprintFunc()
	fmt.Fprintln(w, head("pokerbridge READY"))
	fmt.Fprintf(w, "%s %s\n", key("Mode:"), info.Mode)
	fmt.Fprintf(w, "%s %s\n", key("Role:"), roleLine(info))
	if info.Identity != "" {
		fmt.Fprintf(w, "%s %s\n", key("Identity:"), info.Identity)
	}
	fmt.Fprintf(w, "%s %s channel=%s\n", key("Room:"), info.Addr, info.Channel)
	if info.Engine != "" {
		fmt.Fprintf(w, "%s %s\n", key("Upstream:"), info.Engine)
	}
	if info.Metrics != "" {
		fmt.Fprintf(w, "%s http://%s/metrics\n", key("Metrics:"), info.Metrics)
	}
}
