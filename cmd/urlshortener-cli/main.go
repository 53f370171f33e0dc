package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

const usage = `Usage: urlshortener [flags] <command> <value>

A CLI to interact with the URL shortener service.

Commands:
  shorten <url>      Shortens a long URL.
  get <code>         Retrieves the original URL from a short code. Counts as a visit.
  analytics <code>   Lists the recorded visits of a short code.

Flags:
`

var errUsage = errors.New("invalid usage")

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	flags := pflag.NewFlagSet("urlshortener", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	server := flags.String("server", "http://localhost:8080", "URL shortener HTTP endpoint")
	timeout := flags.Duration("timeout", 10*time.Second, "request timeout")
	flags.Usage = func() {
		fmt.Fprint(stderr, usage)
		flags.PrintDefaults()
	}
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}

	if flags.NArg() != 2 {
		fmt.Fprintln(stderr, "Error: invalid arguments. Expected a command and a value.")
		flags.Usage()
		return 2
	}
	command, value := flags.Arg(0), flags.Arg(1)

	c := &client{
		base: strings.TrimRight(*server, "/"),
		http: &http.Client{
			Timeout: *timeout,
			// get reports the redirect target instead of following it.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}

	var err error
	switch command {
	case "shorten":
		err = c.shorten(ctx, stdout, value)
	case "get":
		err = c.get(ctx, stdout, value)
	case "analytics":
		err = c.analytics(ctx, stdout, value)
	default:
		err = fmt.Errorf("%w: unknown command %q", errUsage, command)
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		if errors.Is(err, errUsage) {
			flags.Usage()
			return 2
		}
		return 1
	}
	return 0
}

type client struct {
	base string
	http *http.Client
}

type visit struct {
	Timestamp string `json:"timestamp"`
	IPAddress string `json:"ip_address"`
}

func (c *client) shorten(ctx context.Context, out io.Writer, originalURL string) error {
	body, err := json.Marshal(map[string]string{"original_url": originalURL})
	if err != nil {
		return err
	}
	res, err := c.do(ctx, http.MethodPost, "/shorten", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusCreated {
		return responseError(res)
	}
	var payload struct {
		ShortURL string `json:"short_url"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return fmt.Errorf("could not decode response: %w", err)
	}
	fmt.Fprintf(out, "shortened url: %s\n", payload.ShortURL)
	return nil
}

func (c *client) get(ctx context.Context, out io.Writer, shortCode string) error {
	res, err := c.do(ctx, http.MethodGet, "/"+url.PathEscape(shortCode), nil)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusMovedPermanently, http.StatusFound:
		fmt.Fprintf(out, "original url: %s\n", res.Header.Get("Location"))
		return nil
	case http.StatusNotFound:
		fmt.Fprintln(out, "url not found")
		return nil
	default:
		return responseError(res)
	}
}

func (c *client) analytics(ctx context.Context, out io.Writer, shortCode string) error {
	res, err := c.do(ctx, http.MethodGet, "/analytics/"+url.PathEscape(shortCode), nil)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		fmt.Fprintln(out, "no visits recorded")
		return nil
	default:
		return responseError(res)
	}

	var visits []visit
	if err := json.NewDecoder(res.Body).Decode(&visits); err != nil {
		return fmt.Errorf("could not decode response: %w", err)
	}
	fmt.Fprintf(out, "%d visit(s)\n", len(visits))
	for _, v := range visits {
		fmt.Fprintf(out, "%s  %s\n", v.Timestamp, v.IPAddress)
	}
	return nil
}

func (c *client) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not reach server, make sure it is running: %w", err)
	}
	return res, nil
}

func responseError(res *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	return fmt.Errorf("server responded %s: %s", res.Status, strings.TrimSpace(string(msg)))
}
