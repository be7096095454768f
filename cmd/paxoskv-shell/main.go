package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gsoosk/PaxosKVStore/rpcapi"
	"github.com/gsoosk/PaxosKVStore/transport"
)

const requestTimeout = 5 * time.Second

func main() {
	var addr string
	flag.StringVar(&addr, "addr", "", "`host:port` of a replica's Frontend listener. Required.")
	flag.Parse()

	if addr == "" {
		fmt.Fprintln(os.Stderr, "missing -addr")
		flag.Usage()
		os.Exit(1)
	}

	fe, err := transport.DialFrontend(addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dial %s: %v\n", addr, err)
		os.Exit(1)
	}
	defer fe.Close()

	fmt.Printf("connected to %s. commands: get <key> | put <key> <value> | delete <key> | quit\n", addr)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		switch strings.ToLower(fields[0]) {
		case "quit", "exit":
			return
		case "get":
			runGet(fe, fields)
		case "put":
			runPut(fe, fields)
		case "delete", "del":
			runDelete(fe, fields)
		default:
			fmt.Printf("unrecognised command %q\n", fields[0])
		}
	}
}

func runGet(fe *transport.FrontendClient, fields []string) {
	if len(fields) != 2 {
		fmt.Println("usage: get <key>")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	resp, err := fe.Get(ctx, &rpcapi.GetRequest{Key: fields[1]})
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	if resp.Status != nil {
		fmt.Printf("%s: %s\n", resp.Status.Code, resp.Status.Message)
		return
	}
	fmt.Println(resp.Value)
}

func runPut(fe *transport.FrontendClient, fields []string) {
	if len(fields) != 3 {
		fmt.Println("usage: put <key> <value>")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	resp, err := fe.Put(ctx, &rpcapi.PutRequest{Key: fields[1], Value: fields[2]})
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	if resp.Status != nil {
		fmt.Printf("%s: %s\n", resp.Status.Code, resp.Status.Message)
		return
	}
	fmt.Println("OK")
}

func runDelete(fe *transport.FrontendClient, fields []string) {
	if len(fields) != 2 {
		fmt.Println("usage: delete <key>")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	resp, err := fe.Delete(ctx, &rpcapi.DeleteRequest{Key: fields[1]})
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	if resp.Status != nil {
		fmt.Printf("%s: %s\n", resp.Status.Code, resp.Status.Message)
		return
	}
	fmt.Println("OK")
}
