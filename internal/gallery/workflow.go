package gallery

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

// WorkflowSummary lists the nodes of an embedded ComfyUI prompt graph with
// their literal inputs.
type WorkflowSummary struct {
	Nodes       []SummaryNode `json:"nodes"`
	Checkpoints []string      `json:"checkpoints,omitempty"`
	Seeds       []int64       `json:"seeds,omitempty"`
}

// SummaryNode is one executed node.
type SummaryNode struct {
	ID     string         `json:"id"`
	Type   string         `json:"type"`
	Title  string         `json:"title,omitempty"`
	Params map[string]any `json:"params,omitempty"`
}

type promptNode struct {
	ClassType string                     `json:"class_type"`
	Inputs    map[string]json.RawMessage `json:"inputs"`
	Meta      struct {
		Title string `json:"title"`
	} `json:"_meta"`
}

// SummarizePrompt builds a summary from the "prompt" text chunk ComfyUI
// embeds in generated images: an object keyed by node id whose values carry
// class_type and inputs. Inputs that link to another node's output are left
// out. It returns nil when raw is not a prompt graph.
func SummarizePrompt(raw []byte) *WorkflowSummary {
	var graph map[string]json.RawMessage
	if err := json.Unmarshal(raw, &graph); err != nil || len(graph) == 0 {
		return nil
	}

	summary := &WorkflowSummary{Nodes: []SummaryNode{}}
	seenCkpt := make(map[string]bool)

	for id, rawNode := range graph {
		var n promptNode
		if err := json.Unmarshal(rawNode, &n); err != nil || n.ClassType == "" {
			continue
		}
		node := SummaryNode{ID: id, Type: n.ClassType, Title: n.Meta.Title}

		for name, rawVal := range n.Inputs {
			var v any
			if err := json.Unmarshal(rawVal, &v); err != nil || isLink(v) {
				continue
			}
			if node.Params == nil {
				node.Params = make(map[string]any)
			}
			node.Params[name] = v

			switch name {
			case "ckpt_name", "unet_name":
				if s, ok := v.(string); ok && !seenCkpt[s] {
					seenCkpt[s] = true
					summary.Checkpoints = append(summary.Checkpoints, s)
				}
			case "seed", "noise_seed":
				if f, ok := v.(float64); ok {
					summary.Seeds = append(summary.Seeds, int64(f))
				}
			}
		}
		summary.Nodes = append(summary.Nodes, node)
	}

	if len(summary.Nodes) == 0 {
		return nil
	}
	sort.Slice(summary.Nodes, func(i, j int) bool {
		return nodeIDLess(summary.Nodes[i].ID, summary.Nodes[j].ID)
	})
	sort.Strings(summary.Checkpoints)
	return summary
}

// isLink reports whether an input value is a [node_id, output_index] pair.
func isLink(v any) bool {
	arr, ok := v.([]any)
	if !ok || len(arr) != 2 {
		return false
	}
	_, idOK := arr[0].(string)
	_, slotOK := arr[1].(float64)
	return idOK && slotOK
}

// nodeIDLess orders ids numerically, segment by segment for nested ids like
// "12:3", falling back to string order.
func nodeIDLess(a, b string) bool {
	as, bs := strings.Split(a, ":"), strings.Split(b, ":")
	for i := 0; i < len(as) && i < len(bs); i++ {
		if as[i] == bs[i] {
			continue
		}
		ai, errA := strconv.Atoi(as[i])
		bi, errB := strconv.Atoi(bs[i])
		if errA == nil && errB == nil {
			return ai < bi
		}
		return as[i] < bs[i]
	}
	return len(as) < len(bs)
}
