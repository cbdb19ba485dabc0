// Command dohquery is a dig-style single-shot DoH query tool: it sends one
// query through the same DoH client/codec the server uses against an
// operator-supplied upstream, for troubleshooting a forwarder's upstream
// group configuration without starting the server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/jroosing/loadants/internal/doh"
	"github.com/jroosing/loadants/internal/httpclient"
	"github.com/jroosing/loadants/internal/upstream/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "dohquery error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		url         = flag.String("url", "https://dns.google/dns-query", "Upstream DoH server URL")
		name        = flag.String("name", "example.com", "Query name")
		qtypeName   = flag.String("type", "A", "Query type (A, AAAA, MX, TXT, ...)")
		method      = flag.String("method", "GET", "HTTP method: GET or POST")
		contentType = flag.String("content-type", "DNS-MESSAGE", "DoH content type: DNS-MESSAGE or JSON")
		timeout     = flag.Duration("timeout", 5*time.Second, "Request timeout")
	)
	flag.Parse()

	qtype, ok := dns.StringToType[strings.ToUpper(*qtypeName)]
	if !ok {
		return fmt.Errorf("unknown query type %q", *qtypeName)
	}

	query := new(dns.Msg)
	query.SetQuestion(dns.Fqdn(*name), qtype)
	query.Id = dns.Id()

	hc, err := httpclient.New(httpclient.Config{RequestTimeout: *timeout, ConnectTimeout: *timeout})
	if err != nil {
		return fmt.Errorf("building http client: %w", err)
	}
	client := doh.New(hc)

	srv := server.Spec{
		URL:         *url,
		Method:      server.Method(strings.ToUpper(*method)),
		ContentType: server.ContentType(strings.ToUpper(*contentType)),
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	resp, err := client.SendRequest(ctx, query, srv)
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}

	fmt.Printf("id=%d rcode=%s answers=%d\n", resp.Id, dns.RcodeToString[resp.Rcode], len(resp.Answer))
	rows := make([]string, 0, len(resp.Answer))
	for _, rr := range resp.Answer {
		rows = append(rows, rr.String())
	}
	sort.Strings(rows)
	for _, row := range rows {
		fmt.Println(row)
	}
	return nil
}
