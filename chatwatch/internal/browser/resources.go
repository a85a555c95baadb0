package browser

import (
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// resourceAliases maps the plural names accepted in configuration to CDP
// resource types. Any other name is taken as a CDP type as is.
var resourceAliases = map[string]proto.NetworkResourceType{
	"images":      proto.NetworkResourceTypeImage,
	"fonts":       proto.NetworkResourceTypeFont,
	"stylesheets": proto.NetworkResourceTypeStylesheet,
	"media":       proto.NetworkResourceTypeMedia,
}

// blockList is a set of lower-cased CDP resource types to refuse.
type blockList map[string]bool

func newBlockList(names []string) blockList {
	b := make(blockList, len(names))
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if t, ok := resourceAliases[n]; ok {
			n = strings.ToLower(string(t))
		}
		if n != "" {
			b[n] = true
		}
	}
	return b
}

func (b blockList) blocks(t proto.NetworkResourceType) bool {
	return b[strings.ToLower(string(t))]
}

// route fails blocked requests on every page of br and lets the rest
// through. The returned router is stopped on session close.
func (b blockList) route(br *rod.Browser) *rod.HijackRouter {
	router := br.HijackRequests()
	router.MustAdd("*", func(h *rod.Hijack) {
		if b.blocks(h.Request.Type()) {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	go router.Run()
	return router
}
