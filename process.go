package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ccollins476ad/instafetch/download"
	"github.com/ccollins476ad/instafetch/resolver"
	"github.com/ccollins476ad/instafetch/storage"
	"github.com/ccollins476ad/instafetch/store"
	log "github.com/sirupsen/logrus"
)

// processLink drives the full pipeline for one input: extract the link from
// the (possibly free-form) shared text, resolve it to media descriptors, and
// dispatch a single-item or batch download.
func processLink(ctx context.Context, cfg *Config, rsv resolver.Resolver, mgr *download.Manager, raw string) error {
	link := resolver.ExtractLink(raw)
	if link == "" {
		return fmt.Errorf("no instagram link found in input: %s", raw)
	}

	res, err := rsv.Resolve(ctx, link)
	if err != nil {
		return fmt.Errorf("resolution failed: %w", err)
	}
	if res.Status != "success" {
		msg := res.Message
		if msg == "" {
			msg = "unknown resolver error"
		}
		return fmt.Errorf("resolution failed: %s", msg)
	}
	if len(res.Media) == 0 {
		return errors.New("no media found")
	}

	items, err := selectItems(res.Media, cfg.Sel)
	if err != nil {
		return err
	}

	username := res.Username
	if username == "" {
		username = "unknown"
	}

	meta := store.PostMeta{
		PostID:   postID(res, link),
		PostURL:  link,
		Username: username,
		Caption:  res.Caption,
		HasVideo: hasVideo(items),
	}

	log.Debugf("processing post: id=%s items=%d", meta.PostID, len(items))

	if len(items) == 1 {
		out := mgr.Single(ctx, items[0], meta)
		if !out.OK() {
			return fmt.Errorf("download failed: %w", out.Err)
		}
		return nil
	}

	outcomes := mgr.Batch(ctx, items, meta)
	ok := 0
	for _, out := range outcomes {
		if out.OK() {
			ok++
		}
	}
	if ok == 0 {
		return errors.New("all downloads failed")
	}

	return nil
}

// postID prefers the resolver-reported shortcode, falling back to an id
// derived from the link itself.
func postID(res *resolver.Result, link string) string {
	if res.Shortcode != "" {
		return res.Shortcode
	}
	return resolver.PostID(link)
}

// selectItems filters media descriptors down to the user's selection. The
// selection refers to the resolver-reported 1-based item indexes; an empty
// selection means all items.
func selectItems(media []resolver.MediaRef, sel string) ([]resolver.MediaRef, error) {
	if sel == "" {
		return media, nil
	}

	wanted := map[int]struct{}{}
	for _, tok := range strings.Split(sel, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(tok))
		if err != nil {
			return nil, fmt.Errorf("invalid selection: %s", tok)
		}
		wanted[n] = struct{}{}
	}

	var items []resolver.MediaRef
	for i, item := range media {
		idx := item.Index
		if idx == 0 {
			idx = i + 1
		}
		if _, ok := wanted[idx]; ok {
			items = append(items, item)
		}
	}

	if len(items) == 0 {
		return nil, fmt.Errorf("selection matched no items: %s", sel)
	}

	return items, nil
}

func hasVideo(items []resolver.MediaRef) bool {
	for _, item := range items {
		if storage.ParseMediaType(item.Type) == storage.Video {
			return true
		}
	}
	return false
}
