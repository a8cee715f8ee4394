package main

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/AmmannChristian/go-fbauth/facebook"
)

// grantOutput is the JSON form of an access grant.
type grantOutput struct {
	AccessToken  string     `json:"access_token"`
	ExpiresIn    *int64     `json:"expires_in,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	Scope        *string    `json:"scope,omitempty"`
	RefreshToken *string    `json:"refresh_token,omitempty"`
}

func newGrantOutput(g *facebook.AccessGrant) grantOutput {
	out := grantOutput{AccessToken: g.AccessToken()}
	if d, ok := g.ExpiresIn(); ok {
		secs := int64(d / time.Second)
		out.ExpiresIn = &secs
	}
	if t, ok := g.ExpireTime(); ok {
		t = t.UTC()
		out.ExpiresAt = &t
	}
	if s, ok := g.Scope(); ok {
		out.Scope = &s
	}
	if r, ok := g.RefreshToken(); ok {
		out.RefreshToken = &r
	}
	return out
}

func (a *app) writeJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func splitScopes(s string) []string {
	if s == "" {
		return nil
	}
	var scopes []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			scopes = append(scopes, p)
		}
	}
	return scopes
}

func (a *app) authorizeURLCmd() *cobra.Command {
	var state, scope string

	cmd := &cobra.Command{
		Use:   "authorize-url --state <state> [--scope email,public_profile]",
		Short: "Print the Facebook login dialog URL",
		RunE: func(cmd *cobra.Command, args []string) error {
			fb, hc, err := a.facebookClient()
			if err != nil {
				return err
			}
			defer hc.Close()

			return a.writeJSON(map[string]string{"url": fb.AuthorizeURL(state, splitScopes(scope))})
		},
	}
	cmd.Flags().StringVar(&state, "state", "", "Opaque state echoed back to the redirect URI")
	cmd.Flags().StringVar(&scope, "scope", "", "Comma separated permissions")
	_ = cmd.MarkFlagRequired("state")
	return cmd
}

func (a *app) exchangeCmd() *cobra.Command {
	var code, redirectURI string

	cmd := &cobra.Command{
		Use:   "exchange --code <code> [--redirect-uri <uri>]",
		Short: "Exchange an authorization code for an access token",
		RunE: func(cmd *cobra.Command, args []string) error {
			fb, hc, err := a.facebookClient()
			if err != nil {
				return err
			}
			defer hc.Close()

			grant, err := fb.ExchangeForAccess(cmd.Context(), code, redirectURI, nil)
			if err != nil {
				return err
			}
			return a.writeJSON(newGrantOutput(grant))
		},
	}
	cmd.Flags().StringVar(&code, "code", "", "Authorization code from the login dialog")
	cmd.Flags().StringVar(&redirectURI, "redirect-uri", "", "Redirect URI used for the login dialog (default from config)")
	_ = cmd.MarkFlagRequired("code")
	return cmd
}

func (a *app) extendCmd() *cobra.Command {
	var token, scope string

	cmd := &cobra.Command{
		Use:   "extend --token <access-token> [--scope <scope>]",
		Short: "Exchange a short-lived access token for a long-lived one",
		RunE: func(cmd *cobra.Command, args []string) error {
			fb, hc, err := a.facebookClient()
			if err != nil {
				return err
			}
			defer hc.Close()

			grant, err := fb.ExtendAccess(cmd.Context(), token, scope, nil)
			if err != nil {
				return err
			}
			return a.writeJSON(newGrantOutput(grant))
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "Access token to extend")
	cmd.Flags().StringVar(&scope, "scope", "", "Scope sent with the extension request")
	_ = cmd.MarkFlagRequired("token")
	return cmd
}

func (a *app) appTokenCmd() *cobra.Command {
	var scope string

	cmd := &cobra.Command{
		Use:   "app-token [--scope <scope>]",
		Short: "Fetch an app access token with the client_credentials grant",
		RunE: func(cmd *cobra.Command, args []string) error {
			fb, hc, err := a.facebookClient()
			if err != nil {
				return err
			}
			defer hc.Close()

			grant, err := fb.AppAccess(cmd.Context(), splitScopes(scope)...)
			if err != nil {
				return err
			}
			return a.writeJSON(newGrantOutput(grant))
		},
	}
	cmd.Flags().StringVar(&scope, "scope", "", "Comma separated scopes")
	return cmd
}

// poolStatsOutput is the JSON form of pool statistics.
type poolStatsOutput struct {
	Mode      string                  `json:"mode"`
	Proxy     string                  `json:"proxy,omitempty"`
	Reaper    string                  `json:"reaper,omitempty"`
	Requests  int                     `json:"requests"`
	Failures  int                     `json:"failures"`
	Pool      *poolSnapshot           `json:"pool,omitempty"`
	Metrics   map[string][]metricLine `json:"metrics,omitempty"`
	Collected time.Time               `json:"collected_at"`
}

type poolSnapshot struct {
	MaxTotal    int                  `json:"max_total"`
	MaxPerRoute int                  `json:"max_per_route"`
	Total       int                  `json:"total"`
	Leased      int                  `json:"leased"`
	Idle        int                  `json:"idle"`
	PeakTotal   int                  `json:"peak_total"`
	Dials       uint64               `json:"dials"`
	Evictions   uint64               `json:"evictions"`
	Routes      map[string]routeLine `json:"routes"`
}

type routeLine struct {
	Connections int `json:"connections"`
	Leased      int `json:"leased"`
	PeakLeased  int `json:"peak_leased"`
}

type metricLine struct {
	Labels map[string]string `json:"labels,omitempty"`
	Value  float64           `json:"value"`
}

func (a *app) poolStatsCmd() *cobra.Command {
	var target string
	var requests int

	cmd := &cobra.Command{
		Use:   "pool-stats [--url <url> --requests <n>]",
		Short: "Send requests through the configured transport and print pool statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			if target != "" {
				if _, err := url.ParseRequestURI(target); err != nil {
					return fmt.Errorf("invalid --url: %w", err)
				}
			}

			hc, err := a.httpClient()
			if err != nil {
				return err
			}
			defer hc.Close()

			out := poolStatsOutput{Mode: string(hc.Selection().Mode)}
			if p := hc.Selection().Proxy; p != nil {
				out.Proxy = p.String()
			}
			if r := hc.Selection().Reaper; r != nil {
				out.Reaper = r.State().String()
			}

			if target != "" && requests > 0 {
				out.Requests = requests
				out.Failures = a.sendRequests(cmd, hc.Client, target, requests)
			}

			if pool := hc.Pool(); pool != nil {
				s := pool.Stats()
				snap := &poolSnapshot{
					MaxTotal:    s.MaxTotal,
					MaxPerRoute: s.MaxPerRoute,
					Total:       s.Total,
					Leased:      s.Leased,
					Idle:        s.Idle,
					PeakTotal:   s.PeakTotal,
					Dials:       s.Dials,
					Evictions:   s.Evictions,
					Routes:      make(map[string]routeLine, len(s.Routes)),
				}
				for route, rs := range s.Routes {
					snap.Routes[route.String()] = routeLine{Connections: rs.Connections, Leased: rs.Leased, PeakLeased: rs.PeakLeased}
				}
				out.Pool = snap
			}

			metrics, err := a.gather()
			if err != nil {
				return err
			}
			out.Metrics = metrics
			out.Collected = time.Now().UTC()

			return a.writeJSON(out)
		},
	}
	cmd.Flags().StringVar(&target, "url", "", "URL to request through the transport")
	cmd.Flags().IntVar(&requests, "requests", 1, "Number of concurrent requests")
	return cmd
}

// sendRequests issues n concurrent GETs and returns the number that failed.
func (a *app) sendRequests(cmd *cobra.Command, client *http.Client, target string, n int) int {
	failures := make([]bool, n)

	var g errgroup.Group
	for i := range n {
		g.Go(func() error {
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, target, nil)
			if err != nil {
				failures[i] = true
				return nil
			}
			resp, err := client.Do(req)
			if err != nil {
				a.log.Warn("pool-stats request failed", zap.String("url", target), zap.Error(err))
				failures[i] = true
				return nil
			}
			_ = resp.Body.Close()
			if resp.StatusCode >= http.StatusBadRequest {
				failures[i] = true
			}
			return nil
		})
	}
	_ = g.Wait()

	count := 0
	for _, failed := range failures {
		if failed {
			count++
		}
	}
	return count
}

func (a *app) gather() (map[string][]metricLine, error) {
	families, err := a.registry.Gather()
	if err != nil {
		return nil, fmt.Errorf("failed to gather metrics: %w", err)
	}

	out := make(map[string][]metricLine, len(families))
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			line := metricLine{}
			switch {
			case m.GetGauge() != nil:
				line.Value = m.GetGauge().GetValue()
			case m.GetCounter() != nil:
				line.Value = m.GetCounter().GetValue()
			default:
				continue
			}
			for _, lp := range m.GetLabel() {
				if line.Labels == nil {
					line.Labels = make(map[string]string)
				}
				line.Labels[lp.GetName()] = lp.GetValue()
			}
			out[mf.GetName()] = append(out[mf.GetName()], line)
		}
	}
	return out, nil
}
