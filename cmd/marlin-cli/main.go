// marlin-cli is a small command-line client for a running marlin-db
// server. Commands take JSON bodies and print the JSON responses.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
)

func main() {
	serverAddr := flag.String("server", "http://127.0.0.1:27777", "Server base URL")
	db := flag.String("db", "test", "Database name")
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		usage()
		os.Exit(2)
	}
	command := args[0]

	var err error
	switch command {
	case "insert", "find", "update", "delete", "aggregate", "distinct", "count", "findAndModify":
		if len(args) < 2 {
			usage()
			os.Exit(2)
		}
		body := "{}"
		if len(args) >= 3 {
			body = args[2]
		}
		err = post(*serverAddr, *db, args[1], command, body)
	case "databases":
		err = get(*serverAddr + "/api/v1/databases")
	case "collections":
		err = get(*serverAddr + "/api/v1/databases/" + *db + "/collections")
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: marlin-cli [-server URL] [-db NAME] COMMAND [COLLECTION] [JSON]

commands:
  insert COLL '{"documents": [...]}'
  find COLL '{"filter": {...}}'
  update COLL '{"filter": {...}, "update": {...}}'
  delete COLL '{"filter": {...}, "limit": 1}'
  aggregate COLL '{"pipeline": [...]}'
  distinct COLL '{"key": "field"}'
  count COLL '{"filter": {...}}'
  findAndModify COLL '{"query": {...}, "update": {...}}'
  databases
  collections`)
}

func post(serverAddr, db, collection, command, body string) error {
	if !json.Valid([]byte(body)) {
		return fmt.Errorf("request body is not valid JSON")
	}
	url := fmt.Sprintf("%s/api/v1/databases/%s/collections/%s/%s", serverAddr, db, collection, command)
	resp, err := http.Post(url, "application/json", bytes.NewReader([]byte(body)))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return printResponse(resp.Body)
}

func get(url string) error {
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return printResponse(resp.Body)
}

func printResponse(body io.Reader) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, "", "  "); err != nil {
		fmt.Println(string(data))
		return nil
	}
	fmt.Println(pretty.String())
	return nil
}
