package browser

import (
	"context"

	"github.com/chromedp/chromedp"
)

// chromeTarget is the subset of a CDP target descriptor the reuse-existing-
// page scan needs.
type chromeTarget struct {
	ID   string
	Type string
	URL  string
}

// listTargets enumerates the browser's open targets.
func listTargets(browserCtx context.Context) ([]*chromeTarget, error) {
	infos, err := chromedp.Targets(browserCtx)
	if err != nil {
		return nil, err
	}
	out := make([]*chromeTarget, 0, len(infos))
	for _, info := range infos {
		out = append(out, &chromeTarget{
			ID:   string(info.TargetID),
			Type: info.Type,
			URL:  info.URL,
		})
	}
	return out, nil
}
