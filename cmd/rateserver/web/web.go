package web

import (
	"fmt"
	"net/http"
)

const homepageTemplate = `<!doctype html>
<html>
  <head><title>Freight Rate Server</title></head>
  <body>
    <h1>Freight Rate Server</h1>
    <p><a href=%q>Metrics</a></p>
    <p>Quotes: POST /api/v1/calculate</p>
  </body>
</html>`

// HomePageHandler serves the landing page, pointing at the metrics path.
func HomePageHandler(path string) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			fmt.Fprintf(w, homepageTemplate, path)
		} else {
			http.NotFound(w, r)
		}
	}
}
