// Package normalize flattens raw platform payloads into canonical items.
//
// Platform APIs rename and nest the same fields across versions, so every
// accessor walks an ordered alias list instead of a single key. A missing
// alias degrades to the zero value; only a missing identifier drops the
// item.
package normalize

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/crowdlens/social-crawler/internal/scrape"
)

// Alias tables, ordered newest field name first.
var (
	tiktokIDPaths     = []string{"id", "itemId", "item_id"}
	tiktokUserPaths   = []string{"author.uniqueId", "author.unique_id", "authorMeta.name", "author"}
	tiktokLikePaths   = []string{"statsV2.diggCount", "stats.diggCount", "diggCount"}
	tiktokCommPaths   = []string{"statsV2.commentCount", "stats.commentCount", "commentCount"}
	tiktokSharePaths  = []string{"statsV2.shareCount", "stats.shareCount", "shareCount"}
	tiktokPlayPaths   = []string{"statsV2.playCount", "stats.playCount", "playCount"}
	tiktokFollowPaths = []string{"authorStats.followerCount", "authorMeta.fans"}
	tiktokVerifPaths  = []string{"author.verified", "authorMeta.verified"}
	tiktokURLPaths    = []string{"webVideoUrl", "shareUrl"}
	tiktokDescPaths   = []string{"desc", "text", "description"}

	instaIDPaths     = []string{"id", "pk", "shortCode", "code"}
	instaCodePaths   = []string{"shortCode", "code"}
	instaURLPaths    = []string{"url", "postUrl", "permalink"}
	instaUserPaths   = []string{"ownerUsername", "owner.username", "user.username", "username"}
	instaLikePaths   = []string{"likesCount", "likes_count", "like_count", "edge_liked_by.count"}
	instaCommPaths   = []string{"commentsCount", "comments_count", "comment_count", "edge_media_to_comment.count"}
	instaSharePaths  = []string{"sharesCount", "reshareCount"}
	instaPlayPaths   = []string{"videoPlayCount", "videoViewCount", "view_count", "play_count"}
	instaFollowPaths = []string{"ownerFollowersCount", "owner.followersCount", "owner.edge_followed_by.count"}
	instaVerifPaths  = []string{"ownerVerified", "owner.is_verified", "user.is_verified"}
	instaCaptionPath = []string{"caption", "edge_media_to_caption.edges.0.node.text"}

	commentIDPaths     = []string{"cid", "id", "commentId", "pk"}
	commentTextPaths   = []string{"text", "comment", "content"}
	commentLikePaths   = []string{"diggCount", "digg_count", "likesCount", "likes_count", "likeCount"}
	commentUserPaths   = []string{"uniqueId", "user.uniqueId", "user.unique_id", "ownerUsername", "owner.username", "username"}
	commentVerifPaths  = []string{"user.verified", "owner.is_verified"}
	commentFollowPaths = []string{"user.followerCount", "owner.followersCount"}
	commentPostPaths   = []string{"postURL", "videoWebUrl", "inputUrl", "postUrl", "url"}
)

// Items converts a batch of raw payloads for one target, skipping entries
// with no usable identifier. The skipped count lets callers surface how
// lossy a source was without failing the run.
func Items(target scrape.Target, raws []scrape.RawItem) (items []scrape.CanonicalItem, skipped int) {
	items = make([]scrape.CanonicalItem, 0, len(raws))
	for _, raw := range raws {
		item, ok := Item(target, raw)
		if !ok {
			skipped++
			continue
		}
		items = append(items, item)
	}
	return items, skipped
}

// Item converts one raw payload. The boolean is false when no identifier
// alias resolves, meaning the entry cannot be deduplicated or referenced
// and must be dropped.
func Item(target scrape.Target, raw scrape.RawItem) (scrape.CanonicalItem, bool) {
	switch target.Platform {
	case scrape.PlatformTikTok:
		return tiktokItem(target, raw)
	case scrape.PlatformInstagram:
		return instagramItem(target, raw)
	default:
		return scrape.CanonicalItem{}, false
	}
}

func tiktokItem(target scrape.Target, raw scrape.RawItem) (scrape.CanonicalItem, bool) {
	id := firstString(raw, tiktokIDPaths...)
	if id == "" {
		return scrape.CanonicalItem{}, false
	}
	username := firstString(raw, tiktokUserPaths...)
	url := firstString(raw, tiktokURLPaths...)
	if url == "" && username != "" {
		url = fmt.Sprintf("https://www.tiktok.com/@%s/video/%s", username, id)
	}
	return scrape.CanonicalItem{
		ID:          id,
		Platform:    scrape.PlatformTikTok,
		SourceType:  target.Type,
		SourceValue: target.Value,
		URL:         url,
		Text:        firstString(raw, tiktokDescPaths...),
		Author: scrape.Author{
			Username:      username,
			FollowerCount: firstInt(raw, tiktokFollowPaths...),
			Verified:      firstBool(raw, tiktokVerifPaths...),
		},
		Metrics: scrape.Metrics{
			LikeCount:    firstInt(raw, tiktokLikePaths...),
			CommentCount: firstInt(raw, tiktokCommPaths...),
			ShareCount:   firstInt(raw, tiktokSharePaths...),
			PlayCount:    firstInt(raw, tiktokPlayPaths...),
		},
		CreatedAt: unixTime(firstInt(raw, "createTime", "create_time")),
		Raw:       rawJSON(raw),
		// Un-enriched items still serialize with an empty comment list.
		Comments: []scrape.Comment{},
	}, true
}

func instagramItem(target scrape.Target, raw scrape.RawItem) (scrape.CanonicalItem, bool) {
	id := firstString(raw, instaIDPaths...)
	if id == "" {
		return scrape.CanonicalItem{}, false
	}
	url := firstString(raw, instaURLPaths...)
	if url == "" {
		if code := firstString(raw, instaCodePaths...); code != "" {
			url = fmt.Sprintf("https://www.instagram.com/p/%s/", code)
		}
	}
	return scrape.CanonicalItem{
		ID:          id,
		Platform:    scrape.PlatformInstagram,
		SourceType:  target.Type,
		SourceValue: target.Value,
		URL:         url,
		Text:        firstString(raw, instaCaptionPath...),
		Author: scrape.Author{
			Username:      firstString(raw, instaUserPaths...),
			FollowerCount: firstInt(raw, instaFollowPaths...),
			Verified:      firstBool(raw, instaVerifPaths...),
		},
		Metrics: scrape.Metrics{
			LikeCount:    firstInt(raw, instaLikePaths...),
			CommentCount: firstInt(raw, instaCommPaths...),
			ShareCount:   firstInt(raw, instaSharePaths...),
			PlayCount:    firstInt(raw, instaPlayPaths...),
		},
		CreatedAt: stampTime(raw, "timestamp", "taken_at"),
		Raw:       rawJSON(raw),
		Comments:  []scrape.Comment{},
	}, true
}

// Comment converts a raw comment payload. The returned post URL is the
// alias that ties the comment back to its parent item; an empty URL means
// the comment cannot be attached and should be dropped.
func Comment(raw scrape.RawItem) (scrape.Comment, string, bool) {
	id := firstString(raw, commentIDPaths...)
	text := firstString(raw, commentTextPaths...)
	if id == "" && text == "" {
		return scrape.Comment{}, "", false
	}
	postURL := firstString(raw, commentPostPaths...)
	created := unixTime(firstInt(raw, "createTime", "create_time"))
	if created.IsZero() {
		created = stampTime(raw, "timestamp")
	}
	return scrape.Comment{
		ID:   id,
		Text: text,
		Author: scrape.Author{
			Username:      firstString(raw, commentUserPaths...),
			FollowerCount: firstInt(raw, commentFollowPaths...),
			Verified:      firstBool(raw, commentVerifPaths...),
		},
		LikeCount: firstInt(raw, commentLikePaths...),
		CreatedAt: created,
	}, postURL, true
}

func unixTime(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

// stampTime parses the first RFC3339 value found under paths. Some
// Instagram payloads carry epoch seconds under taken_at; those fall back
// to unixTime.
func stampTime(raw scrape.RawItem, paths ...string) time.Time {
	for _, p := range paths {
		v, ok := lookup(raw, p)
		if !ok || v == nil {
			continue
		}
		switch s := v.(type) {
		case string:
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				return t.UTC()
			}
		case float64:
			return unixTime(int64(s))
		}
	}
	return time.Time{}
}

func rawJSON(raw scrape.RawItem) json.RawMessage {
	b, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	return b
}
