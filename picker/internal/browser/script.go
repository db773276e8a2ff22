package browser

import (
	"fmt"
	"os"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// ServeScript answers requests for scriptURL with the contents of the local
// file at path, so html2canvas loads on machines without network access
// and on pages whose CSP allows the CDN but the network does not.
// The returned stop function removes the interception.
func ServeScript(page *rod.Page, scriptURL, path string) (stop func() error, err error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("browser: read script: %w", err)
	}

	router := page.HijackRequests()
	router.MustAdd(scriptURL, func(ctx *rod.Hijack) {
		if ctx.Request.Type() != proto.NetworkResourceTypeScript {
			ctx.ContinueRequest(&proto.FetchContinueRequest{})
			return
		}
		ctx.Response.SetHeader(
			"Content-Type", "application/javascript; charset=utf-8",
			"Access-Control-Allow-Origin", "*",
		)
		ctx.Response.SetBody(body)
	})

	go router.Run()
	return router.Stop, nil
}
