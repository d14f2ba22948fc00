// SPDX-License-Identifier: Unlicense OR MIT

//go:build linux || darwin || dragonfly || freebsd || netbsd || openbsd

// Command regtool reads and writes device registers described by a
// register map.
//
// Usage:
//
//	regtool -map uart.yaml -offset 0xfe201000 dump
//	regtool -map uart.yaml -offset 0xfe201000 write CTRL.EN 1
//	regtool -map uart.yaml -sim shell
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"eliasnaur.com/volmem/access"
	"eliasnaur.com/volmem/mmio"
	"eliasnaur.com/volmem/regmap"
)

var (
	mapFile = flag.String("map", "", "register map `file` (YAML)")
	devFile = flag.String("dev", "/dev/mem", "device `file` to map registers from")
	offset  = flag.Uint64("offset", 0, "physical `address` of the register block")
	sim     = flag.Bool("sim", false, "map anonymous memory instead of a device")
	verbose = flag.Bool("v", false, "verbose logging")
)

const usage = `commands:
  list                 list registers and fields
  dump                 read and decode all readable registers
  read REG[.FIELD]     read a register or field
  write REG[.FIELD] V  write a register or field
  reset                write reset values
  shell                interactive prompt`

// tool executes commands against a bound register map.
type tool struct {
	dev *regmap.Device
	out io.Writer
	log *slog.Logger
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] command [args]\n", os.Args[0])
		flag.PrintDefaults()
		fmt.Fprintln(flag.CommandLine.Output(), usage)
	}
	flag.Parse()
	if err := run(flag.Args()); err != nil {
		log.Fatal(err)
	}
}

func run(args []string) error {
	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	if *mapFile == "" {
		flag.Usage()
		return errors.New("regtool: -map is required")
	}
	if len(args) == 0 {
		args = []string{"dump"}
	}
	m, err := regmap.Load(*mapFile)
	if err != nil {
		return err
	}
	var r *mmio.Region
	if *sim {
		r, err = mmio.Anonymous(m.Size)
	} else {
		r, err = mmio.Open(*devFile, int64(*offset), m.Size, mmio.ModeReadWrite)
	}
	if err != nil {
		return err
	}
	defer r.Close()
	logger.Debug("mapped register block", "map", m.Name, "region", r.String(), "offset", fmt.Sprintf("%#x", *offset))
	t, err := newTool(m, r, os.Stdout, logger)
	if err != nil {
		return err
	}
	if args[0] == "shell" {
		return t.shell()
	}
	return t.exec(args)
}

func newTool(m *regmap.Map, r *mmio.Region, out io.Writer, logger *slog.Logger) (*tool, error) {
	mem, err := mmio.Bytes[access.ReadWrite](r)
	if err != nil {
		return nil, err
	}
	dev, err := regmap.Bind(m, mem)
	if err != nil {
		return nil, err
	}
	return &tool{dev: dev, out: out, log: logger}, nil
}

func (t *tool) exec(args []string) error {
	cmd, args := strings.ToLower(args[0]), args[1:]
	switch cmd {
	case "list", "ls":
		return t.list()
	case "dump", "d":
		return t.dev.Dump(t.out)
	case "read", "r":
		if len(args) != 1 {
			return errors.New("usage: read REG[.FIELD]")
		}
		return t.read(args[0])
	case "write", "w":
		if len(args) != 2 {
			return errors.New("usage: write REG[.FIELD] VALUE")
		}
		v, err := strconv.ParseUint(args[1], 0, 64)
		if err != nil {
			return fmt.Errorf("invalid value %q: %w", args[1], err)
		}
		return t.write(args[0], v)
	case "reset":
		return t.dev.Reset()
	default:
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

func (t *tool) list() error {
	fmt.Fprintf(t.out, "%s:\n", t.dev.Name())
	for _, r := range t.dev.Registers() {
		def := r.Def()
		fmt.Fprintf(t.out, "  %-12s 0x%04x %2d-bit %v", def.Name, def.Offset, def.Width, def.Access)
		if def.Desc != "" {
			fmt.Fprintf(t.out, "  %s", def.Desc)
		}
		fmt.Fprintln(t.out)
		for _, f := range def.Fields {
			fmt.Fprintf(t.out, "    .%-10s [%d:%d]\n", f.Name, f.Msb(), f.Lsb())
		}
	}
	return nil
}

func (t *tool) read(path string) error {
	r, field, err := t.dev.Resolve(path)
	if err != nil {
		return err
	}
	var v uint64
	if field != "" {
		v, err = r.ReadField(field)
	} else {
		v, err = r.Read()
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(t.out, "%s = %#x\n", path, v)
	return nil
}

func (t *tool) write(path string, v uint64) error {
	r, field, err := t.dev.Resolve(path)
	if err != nil {
		return err
	}
	if field != "" {
		err = r.WriteField(field, v)
	} else {
		err = r.Write(v)
	}
	if err != nil {
		return err
	}
	t.log.Debug("wrote register", "path", path, "value", fmt.Sprintf("%#x", v))
	return nil
}
