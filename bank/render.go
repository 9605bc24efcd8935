package bank

import (
	"html/template"
	"net/http"
)

// fragment is the html replied to the chaincode routes. Text is escaped by the template.
var fragment = template.Must(template.New("fragment").Parse(
	`{{if .Failed}}<div class="error">{{.Text}}</div>{{else}}<div class="result">{{.Text}}</div>{{end}}` + "\n"))

// render writes text as an html fragment.
func render(rw http.ResponseWriter, status int, text string, failed bool) {
	rw.Header().Set("Content-Type", "text/html; charset=utf-8")
	rw.WriteHeader(status)

	if err := fragment.Execute(rw, struct {
		Text   string
		Failed bool
	}{text, failed}); err != nil {
		logger.Errorf("Error rendering reply: %v", err)
	}
}
