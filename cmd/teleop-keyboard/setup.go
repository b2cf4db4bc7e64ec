package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"go.bug.st/serial/enumerator"

	"github.com/gwillem/teleop-keyboard/pkg/link"
	"github.com/gwillem/teleop-keyboard/pkg/robot"
)

var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	subHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	successStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

type SetupCommand struct {
	Baud int `long:"baud" default:"115200" description:"Serial baud rate of the base"`
}

func (c *SetupCommand) Execute(args []string) error {
	fmt.Println(headerStyle.Render("Teleop Setup"))
	fmt.Println(dimStyle.Render("━━━━━━━━━━━━"))
	fmt.Println()

	cfg := robot.Config{}
	if existing, err := robot.LoadConfigFrom(opts.Config); err == nil {
		cfg = *existing
	}
	if cfg.Base.BaudRate == 0 {
		cfg.Base.BaudRate = c.Baud
	}
	cfg = cfg.WithDefaults()

	// Step 1: Find the base
	port := chooseBasePort(cfg.Base.Port)
	cfg.Base.Port = port
	if port != "" {
		checkBase(port, cfg.Base.BaudRate)
	}

	// Step 2: Speeds and timing
	fmt.Println()
	fmt.Println(subHeaderStyle.Render("━━━ Teleop Settings ━━━"))
	fmt.Println()
	if err := askTeleopSettings(&cfg.Teleop); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			fmt.Println()
			os.Exit(0)
		}
		return err
	}

	if err := cfg.SaveTo(opts.Config); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println(dimStyle.Render("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━"))
	fmt.Println(successStyle.Render("Setup complete!"))
	fmt.Printf("Configuration saved to %s\n", opts.Config)
	fmt.Println()
	fmt.Println("Start teleoperation with: " + headerStyle.Render("teleop-keyboard teleoperate"))

	return nil
}

func chooseBasePort(current string) string {
	fmt.Println("Scanning for serial ports...")
	fmt.Println()

	ports, err := link.Ports()
	if err != nil {
		fmt.Printf("Error listing ports: %v\n", err)
	}

	var options []huh.Option[string]
	for _, port := range ports {
		// Skip Bluetooth ports on macOS
		if strings.Contains(port, "Bluetooth") {
			continue
		}
		options = append(options, huh.NewOption(port, port))
	}
	if len(options) == 0 {
		fmt.Println("No serial ports found.")
		fmt.Println("You can still drive the simulated base with " + headerStyle.Render("teleoperate --sim"))
	}
	options = append(options, huh.NewOption("None (simulated base only)", ""))

	port := current
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Which port is the base controller on?").
				Description("The base must speak newline-delimited JSON").
				Options(options...).
				Value(&port),
		),
	)
	if err := form.Run(); err != nil {
		fmt.Println()
		os.Exit(0)
	}
	return port
}

// checkBase opens the port and waits briefly for the base to say hello.
func checkBase(port string, baud int) {
	fmt.Printf("\n  Checking %s at %d baud...\n", port, baud)

	l, err := link.Open(port, baud)
	if err != nil {
		fmt.Printf("  Error opening port: %v\n", err)
		return
	}
	defer l.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	switch err := waitForHello(ctx, l); {
	case err == nil:
		fmt.Println(successStyle.Render("  Base answered."))
	case errors.Is(err, context.DeadlineExceeded):
		fmt.Println(dimStyle.Render("  No answer yet; teleoperate will wait for it."))
	default:
		fmt.Printf("  Error reading from port: %v\n", err)
	}
}

// waitForHello reads from l until the base has said hello, the port fails
// or ctx ends.
func waitForHello(ctx context.Context, l *link.Link) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	monitorErr := make(chan error, 1)
	go func() { monitorErr <- l.Monitor(ctx, nil) }()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if l.Connections() > 0 {
			return nil
		}
		select {
		case err := <-monitorErr:
			if l.Connections() > 0 {
				return nil
			}
			if errors.Is(err, io.EOF) {
				return errors.New("port closed before the base answered")
			}
			return err
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func askTeleopSettings(tc *robot.TeleopConfig) error {
	speed := formatFloat(tc.Speed)
	turn := formatFloat(tc.Turn)
	repeat := formatFloat(tc.RepeatRate)
	timeout := formatFloat(tc.KeyTimeout)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Linear speed (m/s)").Value(&speed).Validate(positiveFloat),
			huh.NewInput().Title("Angular speed (rad/s)").Value(&turn).Validate(positiveFloat),
			huh.NewInput().Title("Repeat rate (Hz, 0 = only on key press)").Value(&repeat).Validate(nonNegativeFloat),
			huh.NewInput().Title("Key timeout (s, 0 = wait forever)").Value(&timeout).Validate(nonNegativeFloat),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}
	return applyTeleopSettings(tc, speed, turn, repeat, timeout)
}

// applyTeleopSettings parses the form fields into tc. tc is left unchanged
// if any field is invalid.
func applyTeleopSettings(tc *robot.TeleopConfig, speed, turn, repeat, timeout string) error {
	var next robot.TeleopConfig
	var err error
	if next.Speed, err = parsePositive(speed); err != nil {
		return fmt.Errorf("speed: %w", err)
	}
	if next.Turn, err = parsePositive(turn); err != nil {
		return fmt.Errorf("turn: %w", err)
	}
	if next.RepeatRate, err = parseNonNegative(repeat); err != nil {
		return fmt.Errorf("repeat rate: %w", err)
	}
	if next.KeyTimeout, err = parseNonNegative(timeout); err != nil {
		return fmt.Errorf("key timeout: %w", err)
	}
	*tc = next
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func parseFloat(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, errors.New("not a number")
	}
	return v, nil
}

func parsePositive(s string) (float64, error) {
	v, err := parseFloat(s)
	if err != nil {
		return 0, err
	}
	if v <= 0 {
		return 0, errors.New("must be greater than zero")
	}
	return v, nil
}

func parseNonNegative(s string) (float64, error) {
	v, err := parseFloat(s)
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, errors.New("must not be negative")
	}
	return v, nil
}

func positiveFloat(s string) error {
	_, err := parsePositive(s)
	return err
}

func nonNegativeFloat(s string) error {
	_, err := parseNonNegative(s)
	return err
}

type PortsCommand struct{}

func (c *PortsCommand) Execute(args []string) error {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return fmt.Errorf("list ports: %w", err)
	}
	if len(ports) == 0 {
		fmt.Println("No serial ports found.")
		return nil
	}

	rows := make([][]string, 0, len(ports))
	for _, p := range ports {
		usb := ""
		if p.IsUSB {
			usb = fmt.Sprintf("%s:%s", p.VID, p.PID)
		}
		rows = append(rows, []string{p.Name, usb, p.SerialNumber, p.Product})
	}

	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("Port", "USB", "Serial", "Product").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle.Padding(0, 1)
			}
			return cellStyle
		})
	fmt.Println(t.Render())
	return nil
}
