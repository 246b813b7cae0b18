package routes

import (
	"github.com/gofiber/fiber/v2"
)

// RegisterDocs serves the human-readable API documentation.
func RegisterDocs(app *fiber.App) {
	app.Get("/api-docs", func(c *fiber.Ctx) error {
		c.Set("Content-Type", "text/html; charset=utf-8")
		return c.SendString(apiDocsHTML)
	})
	app.Get("/api-docs/", func(c *fiber.Ctx) error {
		return c.Redirect("/api-docs")
	})
}

const apiDocsHTML = `<!DOCTYPE html>
<html>
<head>
<title>Token CID API</title>
<style>
body { font-family: sans-serif; max-width: 760px; margin: 2em auto; line-height: 1.5; }
code, pre { background: #f4f4f4; padding: 2px 5px; border-radius: 3px; }
pre { padding: 1em; overflow-x: auto; }
h2 { border-bottom: 1px solid #ddd; padding-bottom: 4px; }
</style>
</head>
<body>
<h1>Token CID API</h1>
<p>Lookup service over the precomputed CID cache. Entries are immutable;
responses may be cached indefinitely.</p>

<h2>GET /token/{cid}</h2>
<p>Resolve one CID to its token content and metadata.</p>
<pre>{
  "cid": "QmXENBwfSQYfM2mck1qLdgZFx9CU9UV7NC8S9HbsfHd7L1",
  "content": "003841d04a85612adb1ca95d86e08561eb1dcc9608899a57b59d57c565d796bb106",
  "token_level": 3,
  "token_number": 1423543
}</pre>
<p>Returns <code>404</code> with <code>{"error": "not_found", "cid": "..."}</code>
when the CID is not cached.</p>

<h2>POST /tokens/batch</h2>
<p>Resolve up to 10000 CIDs in one request. Duplicates are collapsed.</p>
<pre>{"cids": ["Qm...", "Qm..."]}</pre>
<p>Response:</p>
<pre>{
  "results": {"Qm...": {"cid": "...", "content": "...", "token_level": 3, "token_number": 1423543}},
  "not_found": ["Qm..."],
  "total_requested": 2,
  "total_found": 1,
  "total_not_found": 1
}</pre>
<p>Returns <code>400</code> on a malformed body or when the batch exceeds the
maximum size.</p>

<h2>GET /health</h2>
<pre>{"status": "ok"}</pre>
</body>
</html>
`
