package browser

import (
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// blockNames maps the names accepted in browser.block to CDP resource
// types. Names not listed here are matched against the CDP type itself,
// lower-cased (xhr, fetch, websocket).
var blockNames = map[string]proto.NetworkResourceType{
	"images":      proto.NetworkResourceTypeImage,
	"fonts":       proto.NetworkResourceTypeFont,
	"media":       proto.NetworkResourceTypeMedia,
	"stylesheets": proto.NetworkResourceTypeStylesheet,
	"scripts":     proto.NetworkResourceTypeScript,
}

// blockList is the set of resource types a page never loads.
type blockList map[proto.NetworkResourceType]bool

func newBlockList(names []string) blockList {
	b := make(blockList, len(names))
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if t, ok := blockNames[n]; ok {
			b[t] = true
			continue
		}
		for _, t := range []proto.NetworkResourceType{
			proto.NetworkResourceTypeXHR,
			proto.NetworkResourceTypeFetch,
			proto.NetworkResourceTypeWebSocket,
			proto.NetworkResourceTypeOther,
		} {
			if strings.EqualFold(string(t), n) {
				b[t] = true
			}
		}
	}
	return b
}

// hijack fails blocked requests on page. The document itself is never
// blocked. The returned router must be stopped when the page closes.
func (b blockList) hijack(page *rod.Page) *rod.HijackRouter {
	router := page.HijackRequests()
	router.MustAdd("*", func(h *rod.Hijack) {
		if t := h.Request.Type(); t != proto.NetworkResourceTypeDocument && b[t] {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	go router.Run()
	return router
}
