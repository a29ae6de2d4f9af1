package layoutgen

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/blueprint-ai/layout-worker/internal/errors"
)

// MaxDepth bounds how deeply layout nodes may nest
const MaxDepth = 64

// Node is one element of a generated layout
type Node struct {
	Type     string                 `json:"type"`
	Props    map[string]interface{} `json:"props,omitempty"`
	Children []*Node                `json:"children,omitempty"`
}

// Count returns the number of nodes in the tree rooted at n
func (n *Node) Count() int {
	total := 1
	for _, c := range n.Children {
		total += c.Count()
	}
	return total
}

var (
	fencePattern     = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*\\n?(.*?)```")
	reasoningPattern = regexp.MustCompile(`(?s)<think>.*?</think>`)
)

// ParseLayout extracts the layout tree from a model reply. The reply may
// wrap the JSON in a code fence or surround it with prose.
func ParseLayout(reply string) (*Node, error) {
	body := extractJSON(reply)
	if body == "" {
		return nil, errors.NewLayoutParseError("reply contains no JSON object", nil)
	}

	var root Node
	if err := json.Unmarshal([]byte(body), &root); err != nil {
		return nil, errors.NewLayoutParseError("reply is not a valid layout", err)
	}

	if err := validateNode(&root, "root", 1); err != nil {
		return nil, err
	}
	return &root, nil
}

func extractJSON(reply string) string {
	reply = reasoningPattern.ReplaceAllString(reply, "")

	if m := fencePattern.FindStringSubmatch(reply); m != nil {
		reply = m[1]
	}

	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end < start {
		return ""
	}
	return reply[start : end+1]
}

func validateNode(n *Node, path string, depth int) error {
	if depth > MaxDepth {
		return errors.NewLayoutParseError(fmt.Sprintf("layout nests deeper than %d levels", MaxDepth), nil)
	}
	if n == nil {
		return errors.NewLayoutParseError(fmt.Sprintf("%s is null", path), nil)
	}
	if strings.TrimSpace(n.Type) == "" {
		return errors.NewLayoutParseError(fmt.Sprintf("%s has no type", path), nil)
	}
	for i, c := range n.Children {
		if err := validateNode(c, fmt.Sprintf("%s.children[%d]", path, i), depth+1); err != nil {
			return err
		}
	}
	return nil
}
