package twwplus

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// endpoint identifies which host listing a response belongs to.
type endpoint int

const (
	endpointUnknown endpoint = iota
	endpointGroups
	endpointUsers
	endpointRecent
	endpointMe
)

var endpointSuffixes = []struct {
	suffix string
	kind   endpoint
}{
	{"api/message/recent", endpointRecent},
	{"api/user/me", endpointMe},
	{"api/group", endpointGroups},
	{"api/user", endpointUsers},
}

// classifyEndpoint matches the URL path, without its query, against the
// known listing suffixes.
func classifyEndpoint(rawURL string) endpoint {
	path := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		path = u.Path
	} else if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	for _, e := range endpointSuffixes {
		if strings.HasSuffix(path, e.suffix) {
			return e.kind
		}
	}
	return endpointUnknown
}

// ── Payload schemas ─────────────────────────────────────

const listPayloadSchemaSource = `{
	"type": "object",
	"required": ["data"],
	"properties": {
		"data": {"type": "array"}
	}
}`

const mePayloadSchemaSource = `{
	"type": "object",
	"required": ["data"],
	"properties": {
		"data": {
			"type": "object",
			"required": ["user"],
			"properties": {
				"user": {
					"type": "object",
					"required": ["tbId"],
					"properties": {"tbId": {"type": ["string", "number"]}}
				}
			}
		}
	}
}`

var (
	listPayloadSchema = mustCompileSchema("list-payload.json", listPayloadSchemaSource)
	mePayloadSchema   = mustCompileSchema("me-payload.json", mePayloadSchemaSource)
)

func mustCompileSchema(name, source string) *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(source))
	if err != nil {
		panic(fmt.Sprintf("schema %s: %v", name, err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, doc); err != nil {
		panic(fmt.Sprintf("schema %s: %v", name, err))
	}
	s, err := c.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("schema %s: %v", name, err))
	}
	return s
}

// decodeValidated parses body, checks it against schema and decodes it into out.
func decodeValidated(schema *jsonschema.Schema, body string, out any) error {
	inst, err := jsonschema.UnmarshalJSON(strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("parse payload: %w", err)
	}
	if err := schema.Validate(inst); err != nil {
		return fmt.Errorf("validate payload: %w", err)
	}
	if err := json.Unmarshal([]byte(body), out); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

// listPayload is the envelope shared by every listing endpoint. Records are
// decoded one at a time so a single malformed entry does not sink the rest.
type listPayload struct {
	Data []json.RawMessage `json:"data"`
}

type mePayload struct {
	Data struct {
		User struct {
			TbID flexID `json:"tbId"`
		} `json:"user"`
	} `json:"data"`
}
