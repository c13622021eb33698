// Command importctl reviews a bulk contract import against a running API.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"billdesk/api/internal/client"
	"billdesk/api/internal/importer"
	"billdesk/api/internal/resolver"
	"billdesk/api/internal/workflow"
)

func main() {
	apiURL := flag.String("api", getenv("BILLDESK_API_URL", "http://localhost:8787"), "base URL of the billdesk API")
	timeout := flag.Duration("timeout", 30*time.Second, "HTTP timeout per request")
	flag.Parse()

	api := client.New(*apiURL, &http.Client{Timeout: *timeout})
	c := newConsole(api, os.Stdout)
	defer c.close()
	if err := c.run(context.Background(), os.Stdin); err != nil {
		log.Fatalf("importctl: %v", err)
	}
}

func getenv(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

// server is everything importctl needs from the import API.
type server interface {
	workflow.Collaborator
	resolver.Searcher
	GetSession(ctx context.Context, sessionID string) (importer.ImportSession, error)
}

type console struct {
	api     server
	flow    *workflow.Workflow
	out     io.Writer
	updates chan []importer.CustomerSearchResult
	wait    time.Duration
}

func newConsole(api server, out io.Writer) *console {
	updates := make(chan []importer.CustomerSearchResult, 8)
	onUpdate := func(results []importer.CustomerSearchResult) {
		select {
		case updates <- results:
		default:
		}
	}
	return &console{
		api:     api,
		flow:    workflow.New(api, api, resolver.WithOnUpdate(onUpdate)),
		out:     out,
		updates: updates,
		wait:    5 * time.Second,
	}
}

func (c *console) close() {
	if _, ok := c.flow.Session(); ok {
		if err := c.flow.Cancel(context.Background()); err != nil {
			log.Printf("importctl: cancel on exit: %v", err)
		}
	}
}

func (c *console) run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	c.prompt()
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			c.prompt()
			continue
		}
		if fields[0] == "quit" || fields[0] == "exit" {
			return nil
		}
		if err := c.exec(ctx, fields[0], fields[1:]); err != nil {
			fmt.Fprintf(c.out, "error: %v\n", err)
		}
		c.prompt()
	}
	return scanner.Err()
}

func (c *console) prompt() {
	fmt.Fprintf(c.out, "[%s] > ", c.flow.State())
}

func (c *console) exec(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "help":
		fmt.Fprintln(c.out, "commands: upload <file> [threshold], list, status, search <id> <term>, resolve <id> <n>, toggle <id>, apply [--create-products], cancel, quit")
		return nil
	case "upload":
		return c.upload(ctx, args)
	case "list":
		return c.list()
	case "status":
		return c.status(ctx)
	case "search":
		if len(args) < 2 {
			return errors.New("usage: search <proposal> <term>")
		}
		return c.search(args[0], strings.Join(args[1:], " "))
	case "resolve":
		if len(args) != 2 {
			return errors.New("usage: resolve <proposal> <n>")
		}
		return c.resolve(args[0], args[1])
	case "toggle":
		if len(args) != 1 {
			return errors.New("usage: toggle <proposal>")
		}
		if err := c.flow.Toggle(args[0]); err != nil {
			return err
		}
		return c.list()
	case "apply":
		return c.apply(ctx, len(args) > 0 && args[0] == "--create-products")
	case "cancel":
		if err := c.flow.Cancel(ctx); err != nil {
			return err
		}
		fmt.Fprintln(c.out, "import cancelled")
		return nil
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func (c *console) upload(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: upload <file> [threshold]")
	}
	threshold := 0.0
	if len(args) > 1 {
		parsed, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return fmt.Errorf("threshold must be a number: %w", err)
		}
		threshold = parsed
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	item, err := c.flow.Submit(ctx, data, filepath.Base(args[0]), threshold)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "session %s: %d proposals, %d matched, %d need review, %d not found\n",
		item.ID, item.Summary.TotalProposals, item.Summary.AutoMatched, item.Summary.NeedsReview, item.Summary.NotFound)
	for _, msg := range item.Errors {
		fmt.Fprintf(c.out, "  warning: %s\n", msg)
	}
	return c.list()
}

func (c *console) list() error {
	item, ok := c.flow.Session()
	if !ok {
		return workflow.ErrNoSession
	}
	for _, p := range item.Proposals {
		effective, _ := c.flow.Effective(p.ID)
		mark := " "
		if effective.Approved {
			mark = "x"
		}
		status, extracted, score := "-", p.CustomerName, 0.0
		if p.Match != nil {
			status = string(p.Match.Status())
			score = p.Match.Score()
			if name := p.Match.Extracted(); name != "" {
				extracted = name
			}
		}
		customer := effective.CustomerName
		if customer == "" {
			customer = effective.SelectedCustomerID
		}
		fmt.Fprintf(c.out, "[%s] %-4s %-9s %.2f %-30s -> %s", mark, p.ID, status, score, extracted, customer)
		if p.AlreadyImported() {
			fmt.Fprintf(c.out, " (imported as %s)", p.ExistingContractID)
		}
		if msg := c.flow.RowError(p.ID); msg != "" {
			fmt.Fprintf(c.out, " error: %s", msg)
		}
		fmt.Fprintln(c.out)
		if review, ok := p.Match.(importer.NeedsReview); ok && !effective.Approved {
			for i, alt := range review.Alternatives {
				fmt.Fprintf(c.out, "       %d. %s %s (%.2f)\n", i+1, alt.Name, alt.City, alt.Confidence)
			}
		}
	}
	fmt.Fprintf(c.out, "%d approved, %d pending review\n", c.flow.ApprovedCount(), c.flow.PendingReviewCount())
	return nil
}

// status prints the decisions the server has committed for the open
// session, which differ from list until the next apply sends the overlay.
func (c *console) status(ctx context.Context) error {
	local, ok := c.flow.Session()
	if !ok {
		return workflow.ErrNoSession
	}
	item, err := c.api.GetSession(ctx, local.ID)
	if err != nil {
		return err
	}
	committed := 0
	for _, p := range item.Proposals {
		decision := "undecided"
		switch {
		case p.Approved:
			decision = "approved"
			committed++
		case p.Rejected:
			decision = "rejected"
		}
		fmt.Fprintf(c.out, "%-4s %-9s %s\n", p.ID, decision, p.ResolvedCustomerID())
	}
	fmt.Fprintf(c.out, "server session %s: %d of %d approved\n", item.ID, committed, item.Summary.TotalProposals)
	return nil
}

func (c *console) search(proposalID, term string) error {
	r, err := c.flow.Resolver(proposalID)
	if err != nil {
		return err
	}
	c.drain()
	r.Search(term)
	select {
	case results := <-c.updates:
		if len(results) == 0 {
			fmt.Fprintln(c.out, "no customers found")
		}
		for i, result := range results {
			fmt.Fprintf(c.out, "  %d. %s %s [%s]\n", i+1, result.Name, result.City, result.ID)
		}
		return nil
	case <-time.After(c.wait):
		return errors.New("search timed out")
	}
}

func (c *console) drain() {
	for {
		select {
		case <-c.updates:
		default:
			return
		}
	}
}

// resolve picks the n-th entry of the last search for the proposal, or of
// the matcher's alternatives when nothing was searched.
func (c *console) resolve(proposalID, raw string) error {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return fmt.Errorf("invalid choice %q", raw)
	}
	r, err := c.flow.Resolver(proposalID)
	if err != nil {
		return err
	}
	choices := r.Results()
	if len(choices) == 0 {
		item, _ := c.flow.Session()
		p, _ := item.Proposal(proposalID)
		if review, ok := p.Match.(importer.NeedsReview); ok {
			for _, alt := range review.Alternatives {
				choices = append(choices, importer.CustomerSearchResult{ID: alt.CustomerID, Name: alt.Name, City: alt.City})
			}
		}
	}
	if n > len(choices) {
		return fmt.Errorf("choice %d out of range (%d available)", n, len(choices))
	}
	if err := c.flow.Resolve(proposalID, choices[n-1]); err != nil {
		return err
	}
	return c.list()
}

func (c *console) apply(ctx context.Context, autoCreateProducts bool) error {
	outcome, err := c.flow.Apply(ctx, autoCreateProducts)
	for _, created := range outcome.CreatedContracts {
		fmt.Fprintf(c.out, "created %s %q for %s\n", created.ID, created.Name, created.CustomerName)
	}
	for id, msg := range outcome.ErrorsByProposal {
		fmt.Fprintf(c.out, "failed %s: %s\n", id, msg)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "import finished: %d contracts created\n", len(outcome.CreatedContracts))
	return nil
}
