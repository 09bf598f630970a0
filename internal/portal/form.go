package portal

import (
	"bytes"
	"fmt"
	"net/url"

	"golang.org/x/net/html"
)

type formOutcome int

const (
	formFound formOutcome = iota
	formNotFound
	formMalformed
)

type formInput struct {
	name  string
	value string
}

type loginForm struct {
	outcome formOutcome
	reason  string
	action  *url.URL
	inputs  []formInput
}

// parseLoginForm finds the first form of the page and every input in the
// document carrying both a name and a value.
func parseLoginForm(body []byte, base *url.URL) loginForm {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return loginForm{outcome: formMalformed, reason: fmt.Sprintf("unparsable html: %v", err)}
	}

	var form *html.Node
	var inputs []formInput
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "form":
				if form == nil {
					form = n
				}
			case "input":
				name, hasName := attr(n, "name")
				value, hasValue := attr(n, "value")
				if hasName && hasValue {
					inputs = append(inputs, formInput{name: name, value: value})
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	if form == nil {
		return loginForm{outcome: formNotFound, reason: "page has no form"}
	}

	action, ok := attr(form, "action")
	if !ok {
		return loginForm{outcome: formMalformed, reason: "form has no action"}
	}

	target, err := url.Parse(action)
	if err != nil {
		return loginForm{outcome: formMalformed, reason: fmt.Sprintf("form action %q: %v", action, err)}
	}
	if base != nil {
		target = base.ResolveReference(target)
	}

	return loginForm{outcome: formFound, action: target, inputs: inputs}
}

// values builds the form submission, replacing the values of inputs named
// in overlay. Later inputs with a repeated name win.
func (f loginForm) values(overlay map[string]string) url.Values {
	v := url.Values{}
	for _, in := range f.inputs {
		value := in.value
		if o, ok := overlay[in.name]; ok {
			value = o
		}
		v.Set(in.name, value)
	}
	return v
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}
