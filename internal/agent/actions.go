package agent

import (
	"encoding/json"
	"fmt"

	"PixelBoard/internal/llm"
)

// ActionKind 枚举智能体可调用的工具。
type ActionKind int

const (
	ActionGetGridState ActionKind = iota + 1
	ActionListOptions
	ActionGenerateImage
	ActionFindEmptySpace
	ActionPlaceAd
)

// Actions 按展示顺序列出全部工具。
var Actions = []ActionKind{
	ActionGetGridState,
	ActionListOptions,
	ActionGenerateImage,
	ActionFindEmptySpace,
	ActionPlaceAd,
}

// String 返回工具在模型侧使用的名称。
func (k ActionKind) String() string {
	switch k {
	case ActionGetGridState:
		return "get_grid_state"
	case ActionListOptions:
		return "list_options"
	case ActionGenerateImage:
		return "generate_image"
	case ActionFindEmptySpace:
		return "find_empty_space"
	case ActionPlaceAd:
		return "place_ad"
	default:
		return fmt.Sprintf("action(%d)", int(k))
	}
}

// ParseAction 将模型返回的工具名解析为 ActionKind。
func ParseAction(name string) (ActionKind, bool) {
	for _, k := range Actions {
		if k.String() == name {
			return k, true
		}
	}
	return 0, false
}

func (k ActionKind) description() string {
	switch k {
	case ActionGetGridState:
		return "Return grid statistics: cells sold, total cells, percent sold, revenue, unit price and placement count."
	case ActionListOptions:
		return "List the brands, visual styles and ad sizes available for a placement. Optionally filter brands by keyword."
	case ActionGenerateImage:
		return "Generate an ad image from a prompt. Width and height must be multiples of 10 between 10 and 100. Returns an image id."
	case ActionFindEmptySpace:
		return "Find a vacant, 10-pixel aligned rectangle of the given size. The search is random and may miss free space; retry or try another size."
	case ActionPlaceAd:
		return "Buy a rectangle and place a generated image with a link and title. Costs width*height*unit price, paid automatically."
	default:
		return ""
	}
}

func (k ActionKind) parameters() json.RawMessage {
	switch k {
	case ActionGetGridState:
		return json.RawMessage(`{"type":"object","properties":{}}`)
	case ActionListOptions:
		return json.RawMessage(`{"type":"object","properties":{"keyword":{"type":"string"}}}`)
	case ActionGenerateImage:
		return json.RawMessage(`{"type":"object","properties":{
"prompt":{"type":"string"},
"width":{"type":"integer","minimum":10,"maximum":100,"multipleOf":10},
"height":{"type":"integer","minimum":10,"maximum":100,"multipleOf":10}},
"required":["prompt","width","height"]}`)
	case ActionFindEmptySpace:
		return json.RawMessage(`{"type":"object","properties":{
"width":{"type":"integer","minimum":10,"maximum":100,"multipleOf":10},
"height":{"type":"integer","minimum":10,"maximum":100,"multipleOf":10}},
"required":["width","height"]}`)
	case ActionPlaceAd:
		return json.RawMessage(`{"type":"object","properties":{
"x":{"type":"integer"},"y":{"type":"integer"},
"width":{"type":"integer"},"height":{"type":"integer"},
"imageId":{"type":"string"},"link":{"type":"string"},"title":{"type":"string"},
"brand":{"type":"string"},"style":{"type":"string"}},
"required":["x","y","width","height","imageId","link","title","brand"]}`)
	default:
		return json.RawMessage(`{"type":"object"}`)
	}
}

// Tools 返回提供给模型的工具定义。
func Tools() []llm.Tool {
	tools := make([]llm.Tool, 0, len(Actions))
	for _, k := range Actions {
		tools = append(tools, llm.Tool{Name: k.String(), Description: k.description(), Parameters: k.parameters()})
	}
	return tools
}

type listOptionsArgs struct {
	Keyword string `json:"keyword"`
}

type generateImageArgs struct {
	Prompt string `json:"prompt"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type findSpaceArgs struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type placeAdArgs struct {
	X       int    `json:"x"`
	Y       int    `json:"y"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	ImageID string `json:"imageId"`
	Link    string `json:"link"`
	Title   string `json:"title"`
	Brand   string `json:"brand"`
	Style   string `json:"style"`
}
