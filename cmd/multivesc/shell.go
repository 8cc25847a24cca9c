package main

import (
	"context"
	"sort"
	"strconv"

	"github.com/abiosoft/ishell"

	"github.com/notnil/multivesc"
	"github.com/notnil/multivesc/motor"
)

func runShell(ctx context.Context, mgr *multivesc.Manager) {
	motorNames := func([]string) []string {
		var names []string
		for _, m := range mgr.Motors() {
			names = append(names, m.Name())
		}
		sort.Strings(names)
		return names
	}

	shell := ishell.New()
	shell.Println("multivesc shell")

	shell.AddCmd(&ishell.Cmd{
		Name: "list",
		Help: "list motors",
		Func: func(c *ishell.Context) {
			for _, m := range mgr.Motors() {
				st := m.DriveState()
				c.Printf("%-16s id=%-3d %-8s mode=%-17s demand=%g enabled=%v\n",
					m.Name(), m.ID(), m.PrimaryMode(), st.Mode, st.Value, m.Enabled())
			}
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name:      "status",
		Completer: motorNames,
		Help:      "status <motor>",
		Func: func(c *ishell.Context) {
			if len(c.Args) != 1 {
				c.Println("usage: status <motor>")
				return
			}
			m := mgr.MotorByName(c.Args[0])
			if m == nil {
				c.Printf("no motor %q\n", c.Args[0])
				return
			}
			c.Printf("rpm %.1f\n", m.RPM())
			for _, v := range motor.Values() {
				c.Printf("  %-20s %g\n", v, m.Value(v))
			}
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name:      "set",
		Completer: motorNames,
		Help:      "set <motor> <mode> <value>",
		Func: func(c *ishell.Context) {
			if len(c.Args) != 3 {
				c.Println("usage: set <motor> <mode> <value>")
				return
			}
			m := mgr.MotorByName(c.Args[0])
			if m == nil {
				c.Printf("no motor %q\n", c.Args[0])
				return
			}
			mode, err := motor.ParseDriveMode(c.Args[1])
			if err != nil {
				c.Err(err)
				return
			}
			v, err := strconv.ParseFloat(c.Args[2], 64)
			if err != nil {
				c.Err(err)
				return
			}
			if err := m.Set(mode, v); err != nil {
				c.Err(err)
			}
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "bus",
		Help: "bus <name> open|stop",
		Func: func(c *ishell.Context) {
			if len(c.Args) != 2 {
				for _, b := range mgr.Buses() {
					c.Printf("%-12s %-6s open=%v\n", b.Name(), b.Kind(), b.IsOpen())
				}
				return
			}
			switch c.Args[1] {
			case "open":
				if err := mgr.OpenBus(c.Args[0]); err != nil {
					c.Err(err)
				}
			case "stop":
				c.Println("stopped:", mgr.StopBus(c.Args[0]))
			default:
				c.Println("usage: bus <name> open|stop")
			}
		},
	})

	go func() {
		<-ctx.Done()
		shell.Close()
	}()
	shell.Run()
}
