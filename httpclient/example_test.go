package httpclient_test

import (
	"fmt"
	"log"
	"time"

	"github.com/AmmannChristian/go-fbauth/httpclient"
)

// ExampleSelect demonstrates selecting a proxied pooled transport.
func ExampleSelect() {
	sel, err := httpclient.Select(httpclient.Config{
		Mode:      httpclient.ModePooled,
		ProxyHost: "proxy.internal",
	})
	if err != nil {
		log.Fatal(err)
	}
	defer sel.Close()

	fmt.Println(sel.Proxy)
	fmt.Println(sel.Reaper.State())
	// Output:
	// http://proxy.internal:80
	// running
}

// ExampleNewBuilder demonstrates using the builder pattern for HTTP clients.
func ExampleNewBuilder() {
	client, err := httpclient.NewBuilder().
		WithPoolLimits(10, 5).
		WithTimeout(60 * time.Second).
		Build()
	if err != nil {
		log.Fatal(err)
	}
	defer client.Close()

	fmt.Printf("timeout: %v, max per route: %d\n", client.Timeout, client.Pool().MaxPerRoute())
	// Output: timeout: 1m0s, max per route: 5
}

// ExampleBuilder_WithMode demonstrates the non-pooled transport.
func ExampleBuilder_WithMode() {
	client, err := httpclient.NewBuilder().WithMode(httpclient.ModeSimple).Build()
	if err != nil {
		log.Fatal(err)
	}
	defer client.Close()

	fmt.Println(client.Selection().Mode, client.Pool() == nil)
	// Output: simple true
}
