package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"

	"podauth/internal/authclient"
	"podauth/internal/cli"
	"podauth/pkg/oauth"

	"github.com/spf13/cobra"
)

type fetchOptions struct {
	method         string
	data           string
	dataFile       string
	headers        []string
	includeHeaders bool
	output         string
}

func newFetchCmd() *cobra.Command {
	opts := &fetchOptions{}
	cmd := &cobra.Command{
		Use:   "fetch URL",
		Short: "Request a resource, logging in when the server asks for it",
		Long: `Request a resource and print its body.

When the server answers 401 the request is retried once with credentials
matching its WWW-Authenticate challenge. Logging in opens your browser.

Examples:
  podauth fetch https://alice.example/private/notes.ttl
  podauth fetch -X PUT -H "Content-Type: text/turtle" --data-file notes.ttl https://alice.example/private/notes.ttl
  podauth fetch -X DELETE https://alice.example/private/old.ttl
  podauth fetch -i https://alice.example/profile/card`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFetch(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVarP(&opts.method, "request", "X", "", "HTTP method (default GET, or POST with a body)")
	cmd.Flags().StringVarP(&opts.data, "data", "d", "", "Request body")
	cmd.Flags().StringVar(&opts.dataFile, "data-file", "", "Read the request body from a file (- for stdin)")
	cmd.Flags().StringArrayVarP(&opts.headers, "header", "H", nil, `Request header "Name: value" (repeatable)`)
	cmd.Flags().BoolVarP(&opts.includeHeaders, "include", "i", false, "Print the response status and headers")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Write the body to a file instead of stdout")
	return cmd
}

func runFetch(cmd *cobra.Command, opts *fetchOptions, target string) error {
	body, err := opts.body(cmd.InOrStdin())
	if err != nil {
		return err
	}

	req, err := opts.request(commandContext(cmd), target, body)
	if err != nil {
		return err
	}

	application, err := newApplication(cmd)
	if err != nil {
		return err
	}
	defer application.Close()

	resp, err := application.HTTPClient().Do(req)
	if err != nil {
		var tokenErr *authclient.TokenError
		if errors.As(err, &tokenErr) {
			return &cli.AuthFailedError{IdentityProvider: application.Manager().Issuer(), Reason: tokenErr.Err}
		}
		return cli.ClassifyConnectionError(err, target)
	}
	defer resp.Body.Close()

	if opts.includeHeaders {
		writeResponseHead(cmd.OutOrStdout(), resp)
	}

	out := cmd.OutOrStdout()
	if opts.output != "" {
		f, err := os.Create(opts.output)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", opts.output, err)
		}
		defer f.Close()
		out = f
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return &cli.AuthRequiredError{URL: target, Challenge: oauth.ChallengeFromResponse(resp)}
	case resp.StatusCode >= 400:
		return fmt.Errorf("%s %s: %s", req.Method, target, resp.Status)
	}
	return nil
}

func (o *fetchOptions) body(stdin io.Reader) (io.Reader, error) {
	switch {
	case o.data != "" && o.dataFile != "":
		return nil, errors.New("--data and --data-file are mutually exclusive")
	case o.data != "":
		return strings.NewReader(o.data), nil
	case o.dataFile == "-":
		return stdin, nil
	case o.dataFile != "":
		f, err := os.Open(o.dataFile)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", o.dataFile, err)
		}
		return f, nil
	}
	return nil, nil
}

func (o *fetchOptions) request(ctx context.Context, target string, body io.Reader) (*http.Request, error) {
	method := strings.ToUpper(o.method)
	if method == "" {
		method = http.MethodGet
		if body != nil {
			method = http.MethodPost
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
		return nil, fmt.Errorf("unsupported URL scheme %q", req.URL.Scheme)
	}

	for _, h := range o.headers {
		name, value, ok := strings.Cut(h, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("invalid header %q, expected \"Name: value\"", h)
		}
		req.Header.Add(strings.TrimSpace(name), strings.TrimSpace(value))
	}
	return req, nil
}

func writeResponseHead(w io.Writer, resp *http.Response) {
	fmt.Fprintf(w, "%s %s\n", resp.Proto, resp.Status)

	names := make([]string, 0, len(resp.Header))
	for name := range resp.Header {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, v := range resp.Header[name] {
			fmt.Fprintf(w, "%s: %s\n", name, v)
		}
	}
	fmt.Fprintln(w)
}
