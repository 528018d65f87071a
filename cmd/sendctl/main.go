// sendctl pushes raw overlay lines at a running overlayctl server, one JSON
// object per line. Lines come from arguments, or stdin when none are given.
// The protocol is fire-and-forget; nothing is read back.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"net"
	"os"
	"strings"
	"time"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:5010", "overlayctl address")
	timeout := flag.Duration("timeout", 5*time.Second, "dial timeout")
	flag.Parse()

	lines := flag.Args()
	if len(lines) == 0 {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines = append(lines, scanner.Text())
		}
		if err := scanner.Err(); err != nil {
			fmt.Fprintf(os.Stderr, "sendctl: read stdin: %v\n", err)
			os.Exit(1)
		}
	}

	conn, err := net.DialTimeout("tcp", *addr, *timeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sendctl: dial %s: %v\n", *addr, err)
		os.Exit(1)
	}
	defer conn.Close()

	writer := bufio.NewWriter(conn)
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if _, err := writer.WriteString(line + "\n"); err != nil {
			fmt.Fprintf(os.Stderr, "sendctl: write: %v\n", err)
			os.Exit(1)
		}
	}
	if err := writer.Flush(); err != nil {
		fmt.Fprintf(os.Stderr, "sendctl: flush: %v\n", err)
		os.Exit(1)
	}
}
