package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

type action struct {
	Name        string
	Description string
}

type keyPolicy struct {
	Name        string
	Description string
}

type model struct {
	actions     []action
	policies    []keyPolicy
	selectedAct int
	selectedKey int
	status      string
	details     string
	busy        bool
	client      *client
	now         func() time.Time
}

func initialModel(c *client) model {
	return model{
		actions: []action{
			{"run", "Export the previous month"},
			{"health", "Check export-service health"},
			{"runs", "List recent runs"},
		},
		policies: []keyPolicy{
			{"period", "one key per period (re-trigger replays)"},
			{"random", "fresh key, always a new export"},
			{"none", "no Idempotency-Key header"},
		},
		status: "Ready",
		client: c,
		now:    time.Now,
	}
}

func (m model) Init() tea.Cmd {
	return nil
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "up":
			if m.selectedAct > 0 {
				m.selectedAct--
			}
		case "down":
			if m.selectedAct < len(m.actions)-1 {
				m.selectedAct++
			}
		case "left":
			if m.selectedKey > 0 {
				m.selectedKey--
			}
		case "right":
			if m.selectedKey < len(m.policies)-1 {
				m.selectedKey++
			}
		case "enter":
			if m.busy {
				return m, nil
			}
			m.busy = true
			m.status = "Running..."
			m.details = ""
			act := m.actions[m.selectedAct].Name
			key := idempotencyKey(m.policies[m.selectedKey].Name, m.now())
			return m, actionCmd(m.client, act, key)
		}
	case actionResult:
		m.busy = false
		m.status = msg.status
		m.details = msg.details
	}
	return m, nil
}

func (m model) View() string {
	b := &strings.Builder{}
	fmt.Fprintln(b, "HelloAsso export console")
	fmt.Fprintf(b, "Service: %s\n", m.client.baseURL)
	fmt.Fprintln(b, "")
	fmt.Fprintln(b, "Actions:")
	for i, a := range m.actions {
		marker := " "
		if i == m.selectedAct {
			marker = ">"
		}
		fmt.Fprintf(b, " %s %s - %s\n", marker, a.Name, a.Description)
	}
	fmt.Fprintln(b, "")
	fmt.Fprintln(b, "Idempotency (use left/right):")
	for i, p := range m.policies {
		marker := " "
		if i == m.selectedKey {
			marker = "*"
		}
		fmt.Fprintf(b, " %s %s - %s\n", marker, p.Name, p.Description)
	}
	fmt.Fprintln(b, "")
	fmt.Fprintf(b, "Status: %s\n", m.status)
	if m.details != "" {
		fmt.Fprintln(b, m.details)
	}
	fmt.Fprintln(b, "\nControls: up/down select action, left/right select key policy, enter to run, q to quit")
	return b.String()
}

type actionResult struct {
	status  string
	details string
	failed  bool
}

func actionCmd(c *client, act, key string) tea.Cmd {
	return func() tea.Msg {
		switch act {
		case "health":
			status, err := c.health()
			if err != nil {
				return actionResult{status: fmt.Sprintf("Health check failed: %v", err), failed: true}
			}
			return actionResult{status: "Health: " + status}
		case "runs":
			runs, err := c.recentRuns(10)
			if err != nil {
				return actionResult{status: fmt.Sprintf("Listing runs failed: %v", err), failed: true}
			}
			return actionResult{status: fmt.Sprintf("%d recent run(s)", len(runs)), details: formatRuns(runs)}
		default:
			res, replayed, err := c.trigger(key)
			if err != nil {
				return actionResult{status: fmt.Sprintf("Run failed: %v", err), failed: true}
			}
			return actionResult{status: summarize(res, replayed), details: res.PresignedURL, failed: !res.OK()}
		}
	}
}

func main() {
	runAction := flag.String("run", "", "run action without the console: run|health|runs")
	keyPolicyFlag := flag.String("key", "period", "idempotency key policy: period|random|none")
	flag.Parse()

	c := newClient(getenv("EXPORT_BASE_URL", "http://localhost:8080"))

	if *runAction != "" {
		res := actionCmd(c, *runAction, idempotencyKey(*keyPolicyFlag, time.Now()))().(actionResult)
		fmt.Println(res.status)
		if res.details != "" {
			fmt.Println(res.details)
		}
		if res.failed {
			os.Exit(1)
		}
		return
	}

	p := tea.NewProgram(initialModel(c))
	if _, err := p.Run(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func getenv(k, def string) string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	return v
}
