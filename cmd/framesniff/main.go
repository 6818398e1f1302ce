// Command framesniff captures or replays UDP election traffic (port 3142)
// and dumps each semicolon-delimited frame to a text log, one line per
// frame with its source/destination and kind. It is a standalone capture
// tool in the style of the teacher's pcap-based ami-dump utility
// (development/allstar-nexus/cmd/ami-dump): open a pcap source (live
// interface or offline file), filter by UDP port, and write a sanitized
// text dump — adapted here from TCP/AMI session reconstruction to
// per-datagram UDP frame logging, since the election wire protocol is
// one frame per packet rather than a streamed session.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
)

func main() {
	iface := flag.String("iface", "", "network interface to capture live on (mutually exclusive with -file)")
	file := flag.String("file", "", "offline pcap file to read instead of a live interface")
	port := flag.Int("port", 3142, "UDP port carrying election frames")
	outPath := flag.String("out", "election-frames.log", "output text log path")
	flag.Parse()

	if *iface == "" && *file == "" {
		fatalf("one of -iface or -file is required")
	}

	var handle *pcap.Handle
	var err error
	if *file != "" {
		handle, err = pcap.OpenOffline(*file)
	} else {
		handle, err = pcap.OpenLive(*iface, 2048, true, pcap.BlockForever)
	}
	if err != nil {
		fatalf("open capture source: %v", err)
	}
	defer handle.Close()

	if err := handle.SetBPFFilter(fmt.Sprintf("udp port %d", *port)); err != nil {
		fatalf("set bpf filter: %v", err)
	}

	outFile, err := os.Create(*outPath)
	if err != nil {
		fatalf("create output: %v", err)
	}
	defer outFile.Close()
	w := bufio.NewWriter(outFile)
	defer w.Flush()

	fmt.Fprintf(w, "# election frame capture started %s (port=%d)\n\n", time.Now().Format(time.RFC3339), *port)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	src := gopacket.NewPacketSource(handle, handle.LinkType())
	packets := src.Packets()

	count := 0
	for {
		select {
		case <-stop:
			fmt.Fprintf(w, "\n# interrupted after %d frames\n", count)
			return
		case pkt, ok := <-packets:
			if !ok {
				fmt.Fprintf(w, "\n# capture source exhausted, %d frames total\n", count)
				return
			}
			udpLayer := pkt.Layer(layers.LayerTypeUDP)
			if udpLayer == nil {
				continue
			}
			udp, _ := udpLayer.(*layers.UDP)
			payload := string(udp.Payload)
			if payload == "" {
				continue
			}
			count++
			writeFrameLine(w, pkt, udp, count, payload)
		}
	}
}

// writeFrameLine logs one UDP datagram as a single semicolon-delimited
// frame, splitting its fields the same way internal/wire.Cursor walks
// them so the dump reads field-by-field without depending on that
// package.
func writeFrameLine(w *bufio.Writer, pkt gopacket.Packet, udp *layers.UDP, seq int, payload string) {
	var src, dst string
	if net := pkt.NetworkLayer(); net != nil {
		nf := net.NetworkFlow()
		src, dst = nf.Src().String(), nf.Dst().String()
	}
	fields := strings.Split(strings.TrimSuffix(payload, ";"), ";")
	kind := ""
	if len(fields) > 0 {
		kind = fields[0]
	}
	ts := pkt.Metadata().Timestamp.Format("15:04:05.000000")
	fmt.Fprintf(w, "[%s] #%d %s:%d -> %s:%d kind=%s fields=%v\n",
		ts, seq, src, udp.SrcPort, dst, udp.DstPort, kind, fields[1:])
}

func fatalf(f string, a ...interface{}) {
	fmt.Fprintf(os.Stderr, f+"\n", a...)
	os.Exit(1)
}
