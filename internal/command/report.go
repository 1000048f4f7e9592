package command

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"

	"autoconsole/internal/application"
	"autoconsole/internal/global"
	"autoconsole/internal/prompt"
	"autoconsole/internal/runlog"
)

func writeProfileList(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tRULES\tDESCRIPTION")
	for _, name := range prompt.BuiltinProfiles() {
		p, err := prompt.LoadProfile(name)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\n", p.Name, len(p.Rules), p.Description)
	}
	return tw.Flush()
}

// showProfile prints the compiled table. The password is masked before
// rendering so it never reaches the terminal.
func showProfile(w io.Writer, name, file string, target prompt.Target) error {
	var (
		p   *prompt.Profile
		err error
	)
	if strings.TrimSpace(file) != "" {
		p, err = prompt.LoadProfileFile(file)
	} else {
		p, err = prompt.LoadProfile(name)
	}
	if err != nil {
		return err
	}
	table, err := prompt.Compile(p, target.Masked())
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "profile %s: %d rules, %d prompt names, terminator %s\n",
		table.Profile(), table.Len(), len(table.Names()), strconv.Quote(string(table.Terminator())))
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tNAME\tPATTERN\tACTIONS\tPOLICY")
	for i, r := range table.Rules() {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\n", i+1, r.Name, strconv.Quote(r.Pattern), len(r.Actions), policyString(r.Policy))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	for _, name := range table.Names() {
		fmt.Fprintf(w, "\n%s:\n", name)
		for i, a := range table.Actions(name) {
			fmt.Fprintf(w, "  %2d %s\n", i+1, strconv.Quote(string(a)))
		}
	}
	return nil
}

func policyString(p prompt.Policy) string {
	if p.IsZero() {
		return "-"
	}
	parts := make([]string, 0, 3)
	if p.Gate != "" {
		parts = append(parts, "gate="+p.Gate)
	}
	if p.Arms != "" {
		parts = append(parts, "arms="+p.Arms)
	}
	if p.ResendAfter > 0 {
		parts = append(parts, "resend="+p.ResendAfter.String())
	}
	return strings.Join(parts, " ")
}

func writeTarget(w io.Writer, path string, tc global.TargetConfig) error {
	target := tc.Target("")
	fmt.Fprintf(w, "target %s\n", path)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "name\t%s\n", tc.Name)
	fmt.Fprintf(tw, "root\t%s\n", tc.Root)
	fmt.Fprintf(tw, "domain\t%s\n", tc.Domain)
	fmt.Fprintf(tw, "decnet\t%d.%d (scssystemid %d)\n", tc.DECnet.Area, tc.DECnet.Number, target.SCSSystemID())
	fmt.Fprintf(tw, "gateway\t%s %s\n", tc.TCPIP.GatewayAddress, tc.TCPIP.GatewayHostname)
	fmt.Fprintf(tw, "bind\t%s %s\n", tc.TCPIP.BindAddress, tc.TCPIP.BindServer)
	return tw.Flush()
}

func writeReplaySummary(w io.Writer, res application.ReplayResult) error {
	fmt.Fprintf(w, "%d responses", res.Sends)
	if res.RunID != "" {
		fmt.Fprintf(w, ", run %s", res.RunID)
	}
	fmt.Fprintln(w)
	if pending := len(res.Snapshot.Pending); pending > 0 {
		fmt.Fprintf(w, "%d bytes of unmatched output left\n", pending)
	}
	return nil
}

func writeRuns(w io.Writer, runs []runlog.Run) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tPROFILE\tDOMAIN\tTRANSPORT\tSTARTED\tSTATUS")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", r.RunID, r.Profile, dash(r.Domain), dash(r.Transport),
			humanize.Time(time.Unix(r.StartedAt, 0)), statusColor(r.Status))
	}
	return tw.Flush()
}

func writeRun(w io.Writer, run runlog.Run, events []runlog.RunEvent) error {
	fmt.Fprintf(w, "run %s  %s\n", run.RunID, statusColor(run.Status))
	fmt.Fprintf(w, "profile %s, domain %s, transport %s\n", run.Profile, dash(run.Domain), dash(run.Transport))
	started := time.Unix(run.StartedAt, 0)
	fmt.Fprintf(w, "started %s", started.Format(time.RFC3339))
	if run.EndedAt > 0 {
		fmt.Fprintf(w, ", ran %s", strings.TrimSpace(humanize.RelTime(started, time.Unix(run.EndedAt, 0), "", "")))
	}
	fmt.Fprintln(w)
	if run.LastError != "" {
		fmt.Fprintf(w, "error: %s\n", run.LastError)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tKIND\tRULE\tSTEP\tDETAIL")
	for _, ev := range events {
		detail := ev.Flag
		if ev.Payload != "" {
			detail = strconv.Quote(ev.Payload)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%s\n",
			time.UnixMilli(ev.CreatedAt).Format("15:04:05.000"), ev.Kind, ev.Rule, ev.Cursor+1, ev.Total, dash(detail))
	}
	return tw.Flush()
}

func statusColor(status string) string {
	switch status {
	case runlog.StatusCompleted:
		return color.GreenString(status)
	case runlog.StatusFailed:
		return color.RedString(status)
	case runlog.StatusRunning:
		return color.CyanString(status)
	}
	return color.YellowString(status)
}

func dash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
