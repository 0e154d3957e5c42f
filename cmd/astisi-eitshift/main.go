package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/asticode/go-astilog"
	astisi "github.com/asticode/go-astisi"
	"github.com/pkg/errors"
	"github.com/pkg/profile"
)

const ioBufSize = 10 * 1024 * 1024

// Flags
var (
	cpuProfiling    = flag.Bool("cp", false, "if yes, cpu profiling is enabled")
	dateOnly        = flag.Bool("date-only", false, "if yes, only the date part of event start times is shifted")
	inputPath       = flag.String("i", "", "the input path")
	inputPIDs       = flag.String("pids", "18", "comma separated list of input PIDs")
	keepServices    = flag.String("keep", "", "comma separated list of services to keep (onid:tsid:sid, empty components are wildcards)")
	maxQueued       = flag.Int("max-queued", astisi.DefaultMaxQueuedSections, "the maximum number of buffered sections")
	memoryProfiling = flag.Bool("mp", false, "if yes, memory profiling is enabled")
	offset          = flag.Duration("offset", 0, "the time offset applied to event start times")
	outputPath      = flag.String("o", "", "the output path")
	outputPID       = flag.Uint("out-pid", 18, "the output PID")
	removeServices  = flag.String("remove", "", "comma separated list of services to remove (onid:tsid:sid, empty components are wildcards)")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Rewrite the EIT sections of a TS file\n%s [FLAGS]:\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	astilog.FlagInit()
	astisi.SetLogger(log.Default())

	// Start profiling
	if *cpuProfiling {
		defer profile.Start(profile.CPUProfile, profile.ProfilePath(".")).Stop()
	} else if *memoryProfiling {
		defer profile.Start(profile.MemProfile, profile.ProfilePath(".")).Stop()
	}

	if err := run(); err != nil {
		astilog.Fatal(err)
	}
}

func run() (err error) {
	// Build the reader
	var r io.Reader = os.Stdin
	if *inputPath != "" {
		var f *os.File
		if f, err = os.Open(*inputPath); err != nil {
			return errors.Wrapf(err, "main: opening %s failed", *inputPath)
		}
		defer f.Close()
		r = f
	}
	br := bufio.NewReaderSize(r, ioBufSize)

	// Build the writer
	var w io.Writer = os.Stdout
	if *outputPath != "" {
		var f *os.File
		if f, err = os.Create(*outputPath); err != nil {
			return errors.Wrapf(err, "main: creating %s failed", *outputPath)
		}
		defer f.Close()
		w = f
	}
	bw := bufio.NewWriterSize(w, ioBufSize)
	defer bw.Flush()

	// Build the processor
	var pids []uint16
	if pids, err = parsePIDs(*inputPIDs); err != nil {
		return errors.Wrap(err, "main: parsing input PIDs failed")
	}
	p := astisi.NewEITProcessor(pids, uint16(*outputPID), astisi.OptEITProcessorMaxQueuedSections(*maxQueued))
	if err = registerServiceFilters(p, *keepServices, *removeServices); err != nil {
		return errors.Wrap(err, "main: registering service filters failed")
	}
	if *offset != 0 {
		p.SetTimeOffset(*offset, *dateOnly)
	}

	// Process packets
	b := make([]byte, astisi.MpegTsPacketSize)
	for {
		if _, err = io.ReadFull(br, b); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return errors.Wrap(err, "main: reading packet failed")
		}

		var pkt *astisi.Packet
		if pkt, err = astisi.ParsePacket(b); err != nil {
			return errors.Wrap(err, "main: parsing packet failed")
		}

		var bs []byte
		if bs, err = p.ProcessPacket(pkt).Bytes(); err != nil {
			return errors.Wrap(err, "main: writing packet failed")
		}
		if _, err = bw.Write(bs); err != nil {
			return errors.Wrap(err, "main: writing output failed")
		}
	}

	astilog.Infof("main: done, %d sections still buffered, %d dropped", p.QueuedSections(), p.DroppedSections())
	return nil
}

func parsePIDs(s string) (pids []uint16, err error) {
	for _, v := range strings.Split(s, ",") {
		var pid uint64
		if pid, err = strconv.ParseUint(strings.TrimSpace(v), 0, 13); err != nil {
			return nil, errors.Wrapf(err, "parsing PID %s failed", v)
		}
		pids = append(pids, uint16(pid))
	}
	return
}

func registerServiceFilters(p *astisi.EITProcessor, keep, remove string) (err error) {
	if keep != "" {
		for _, v := range strings.Split(keep, ",") {
			var f astisi.ServiceFilter
			if f, err = parseServiceFilter(v); err != nil {
				return
			}
			p.Keep(f)
		}
	}
	if remove != "" {
		for _, v := range strings.Split(remove, ",") {
			var f astisi.ServiceFilter
			if f, err = parseServiceFilter(v); err != nil {
				return
			}
			p.Remove(f)
		}
	}
	return
}

// parseServiceFilter parses "onid:tsid:sid" with empty components acting as
// wildcards, e.g. "::0x1234" matches service 0x1234 on any stream
func parseServiceFilter(s string) (f astisi.ServiceFilter, err error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 {
		err = fmt.Errorf("invalid service %s, expected onid:tsid:sid", s)
		return
	}
	var v uint64
	if parts[0] != "" {
		if v, err = strconv.ParseUint(parts[0], 0, 16); err != nil {
			return
		}
		f.HasOriginalNetworkID = true
		f.OriginalNetworkID = uint16(v)
	}
	if parts[1] != "" {
		if v, err = strconv.ParseUint(parts[1], 0, 16); err != nil {
			return
		}
		f.HasTransportStreamID = true
		f.TransportStreamID = uint16(v)
	}
	if parts[2] != "" {
		if v, err = strconv.ParseUint(parts[2], 0, 16); err != nil {
			return
		}
		f.HasServiceID = true
		f.ServiceID = uint16(v)
	}
	return
}
