package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"time"

	cli "github.com/spf13/pflag"

	"github.com/MrZloHex/vox/internal/ipc"
)

func main() {
	socket := cli.StringP("socket", "s", ipc.SocketPath, "Control socket path")
	timeout := cli.DurationP("timeout", "t", 90*time.Second, "How long to wait for the daemon")
	asJSON := cli.BoolP("json", "j", false, "Print the raw reply")
	cli.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: vox-ctl [flags] [wake|status|reload|stats|say <phrase>]\n")
		cli.PrintDefaults()
	}
	cli.Parse()

	msg := ipc.ControlMessage{Cmd: ipc.CmdWake}
	if args := cli.Args(); len(args) > 0 {
		msg = ipc.ControlMessage{Cmd: args[0], Args: args[1:]}
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	reply, err := ipc.Send(ctx, *socket, msg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "vox-ctl:", err)
		os.Exit(1)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(reply)
		return
	}

	fmt.Println("state:", reply.State)
	keys := make([]string, 0, len(reply.Data))
	for k := range reply.Data {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Printf("%s: %v\n", k, reply.Data[k])
	}
}
