package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/itracker-hq/metrics-bot/internal/apify"
	"github.com/itracker-hq/metrics-bot/internal/models"
	"github.com/itracker-hq/metrics-bot/internal/util"
)

const (
	tiktokMetricsActorID  = "clockworks~tiktok-scraper"          // GdWCkxBtKWOsKjdch
	tiktokCommentsActorID = "clockworks~tiktok-comments-scraper" // BDec00yAmCm1QbMEI
)

// TikTok fetches video metrics and comments through scraping actors.
type TikTok struct {
	jobs *apify.Client
}

// NewTikTok creates a TikTok client on top of the given job API client.
func NewTikTok(jobs *apify.Client) *TikTok {
	if jobs == nil {
		panic("providers: job client is required")
	}
	return &TikTok{jobs: jobs}
}

func (t *TikTok) Platform() models.Platform {
	return models.PlatformTikTok
}

// tiktokItem is the actor's dataset item. The actor has shipped two field
// naming generations; both are decoded and reconciled in mapTikTokItem.
type tiktokItem struct {
	ID           string `json:"id"`
	VideoID      string `json:"videoId"`
	PlayCount    int64  `json:"playCount"`
	Plays        int64  `json:"plays"`
	DiggCount    int64  `json:"diggCount"`
	Hearts       int64  `json:"hearts"`
	CommentCount int64  `json:"commentCount"`
	Comments     int64  `json:"comments"`
	ShareCount   int64  `json:"shareCount"`
	Shares       int64  `json:"shares"`
	Cover        string `json:"cover"`
	Length       int64  `json:"length"`
	AudioID      string `json:"audioId"`
	AudioTitle   string `json:"audioTitle"`
	AudioAlbum   string `json:"audioAlbum"`
	AudioAuthor  string `json:"audioAuthor"`
	CreateTime   int64  `json:"createTime"`
	UploadDate   int64  `json:"uploadDate"`

	IsDuetEnabled    bool     `json:"isDuetEnabled"`
	IsAd             bool     `json:"isAd"`
	IsSponsored      bool     `json:"isSponsored"`
	CommerceHashtags []string `json:"commerceHashtags"`

	// Hashtags arrive either as plain strings or as {"name": ...} objects.
	Hashtags []json.RawMessage `json:"hashtags"`

	VideoMeta struct {
		CoverURL string `json:"coverUrl"`
		Duration int64  `json:"duration"`
	} `json:"videoMeta"`
	MusicMeta struct {
		MusicID     string `json:"musicId"`
		MusicName   string `json:"musicName"`
		MusicAlbum  string `json:"musicAlbum"`
		MusicAuthor string `json:"musicAuthor"`
	} `json:"musicMeta"`
}

// tiktokVideo is the reconciled video record carried in raw_response.
type tiktokVideo struct {
	IsAd             bool     `json:"isAd"`
	Cover            string   `json:"cover"`
	Plays            int64    `json:"plays"`
	Hearts           int64    `json:"hearts"`
	Length           int64    `json:"length"`
	Shares           int64    `json:"shares"`
	AudioID          string   `json:"audioId"`
	VideoID          string   `json:"videoId"`
	Comments         int64    `json:"comments"`
	Hashtags         []string `json:"hashtags"`
	AudioAlbum       string   `json:"audioAlbum"`
	AudioTitle       string   `json:"audioTitle"`
	EngageRate       float64  `json:"engageRate"`
	UploadDate       int64    `json:"uploadDate"`
	AudioAuthor      string   `json:"audioAuthor"`
	IsDuetEnabled    bool     `json:"isDuetEnabled"`
	CommerceHashtags []string `json:"commerceHashtags"`
}

type tiktokPlatformData struct {
	VideoID          string   `json:"video_id"`
	AudioID          string   `json:"audio_id"`
	AudioTitle       string   `json:"audio_title"`
	AudioAuthor      string   `json:"audio_author"`
	VideoDuration    int64    `json:"video_duration"`
	VideoCover       string   `json:"video_cover"`
	Hashtags         []string `json:"hashtags"`
	IsAd             bool     `json:"is_ad"`
	IsDuetEnabled    bool     `json:"is_duet_enabled"`
	CommerceHashtags []string `json:"commerce_hashtags"`
	UploadDate       int64    `json:"upload_date"`
	SharesCount      int64    `json:"shares_count"`
	EngageRate       float64  `json:"engage_rate"`
}

// FetchMetrics scrapes a single video and returns its canonical record.
func (t *TikTok) FetchMetrics(ctx context.Context, postID, postURL string) (*models.CanonicalMetrics, error) {
	cleanURL := util.CleanPostURL(postURL)

	log.Info().
		Str("post_id", postID).
		Str("url", cleanURL).
		Str("actor_id", tiktokMetricsActorID).
		Msg("Fetching TikTok metrics")

	items, err := t.jobs.RunActor(ctx, tiktokMetricsActorID, map[string]any{
		"postURLs": []string{cleanURL},
	}, apify.DefaultMaxAttempts, 1)
	if err != nil {
		return nil, fmt.Errorf("tiktok metrics scrape failed: %w", err)
	}

	var item tiktokItem
	if err := json.Unmarshal(items[0], &item); err != nil {
		return nil, fmt.Errorf("failed to decode tiktok payload: %w", err)
	}

	video := mapTikTokItem(&item)
	return normaliseTikTok(postID, postURL, video), nil
}

// mapTikTokItem reconciles the actor's two field generations into one video
// record and computes the engagement ratio from the reconciled counters.
func mapTikTokItem(item *tiktokItem) *tiktokVideo {
	plays := pickInt64(item.PlayCount, item.Plays)
	hearts := pickInt64(item.DiggCount, item.Hearts)
	comments := pickInt64(item.CommentCount, item.Comments)
	shares := pickInt64(item.ShareCount, item.Shares)

	uploadDate := pickInt64(item.CreateTime, item.UploadDate)
	if uploadDate == 0 {
		uploadDate = time.Now().UnixMilli()
	}

	return &tiktokVideo{
		VideoID:          pickString(item.ID, item.VideoID),
		Plays:            plays,
		Hearts:           hearts,
		Comments:         comments,
		Shares:           shares,
		Cover:            pickString(item.VideoMeta.CoverURL, item.Cover),
		Length:           pickInt64(item.VideoMeta.Duration, item.Length),
		AudioID:          pickString(item.MusicMeta.MusicID, item.AudioID),
		AudioTitle:       pickString(item.MusicMeta.MusicName, item.AudioTitle),
		AudioAlbum:       pickString(item.MusicMeta.MusicAlbum, item.AudioAlbum),
		AudioAuthor:      pickString(item.MusicMeta.MusicAuthor, item.AudioAuthor),
		Hashtags:         decodeHashtags(item.Hashtags),
		EngageRate:       engagementRatio(plays, hearts+comments+shares),
		UploadDate:       uploadDate,
		IsDuetEnabled:    item.IsDuetEnabled,
		CommerceHashtags: item.CommerceHashtags,
		IsAd:             item.IsAd || item.IsSponsored,
	}
}

// normaliseTikTok converts a reconciled video record to the canonical shape.
// The nested engage_rate keeps the historical extra division by 100 so stored
// rows stay comparable across snapshots.
func normaliseTikTok(postID, postURL string, video *tiktokVideo) *models.CanonicalMetrics {
	raw := newRawEnvelope(map[string]any{"basicTikTokVideo": video})

	return &models.CanonicalMetrics{
		PostID:         postID,
		Platform:       models.PlatformTikTok,
		ContentID:      postID,
		PostURL:        postURL,
		Title:          nil,
		LikesCount:     video.Hearts,
		CommentsCount:  video.Comments,
		ViewsCount:     video.Plays,
		EngagementRate: video.EngageRate,
		PlatformData: &tiktokPlatformData{
			VideoID:          video.VideoID,
			AudioID:          video.AudioID,
			AudioTitle:       video.AudioTitle,
			AudioAuthor:      video.AudioAuthor,
			VideoDuration:    video.Length,
			VideoCover:       video.Cover,
			Hashtags:         video.Hashtags,
			IsAd:             video.IsAd,
			IsDuetEnabled:    video.IsDuetEnabled,
			CommerceHashtags: video.CommerceHashtags,
			UploadDate:       video.UploadDate,
			SharesCount:      video.Shares,
			EngageRate:       video.EngageRate / 100,
		},
		QuotaUsed:    raw.QuotaUsed,
		APITimestamp: raw.Timestamp,
		APISuccess:   true,
		RawResponse:  raw,
	}
}

// tiktokComment is the comments actor's dataset item, both field generations.
type tiktokComment struct {
	CID               string `json:"cid"`
	ID                string `json:"id"`
	Text              string `json:"text"`
	UniqueID          string `json:"uniqueId"`
	Author            string `json:"author"`
	DiggCount         int64  `json:"diggCount"`
	LikeCount         int64  `json:"likeCount"`
	ReplyCommentTotal int64  `json:"replyCommentTotal"`
	ReplyCount        int64  `json:"replyCount"`
	CreateTimeISO     string `json:"createTimeISO"`
	PublishedAt       string `json:"publishedAt"`
}

// FetchComments scrapes up to limit comments for a video. A run that
// succeeds without producing any items yields an empty slice, not an error.
func (t *TikTok) FetchComments(ctx context.Context, postURL string, limit int) ([]models.Comment, error) {
	cleanURL := util.CleanPostURL(postURL)

	log.Info().
		Str("url", cleanURL).
		Int("limit", limit).
		Str("actor_id", tiktokCommentsActorID).
		Msg("Fetching TikTok comments")

	items, err := t.jobs.RunActor(ctx, tiktokCommentsActorID, map[string]any{
		"postURLs":     []string{cleanURL},
		"resultsLimit": limit,
	}, apify.DefaultMaxAttempts, limit)
	if err != nil {
		if jobErr, ok := apify.IsJobError(err); ok && jobErr.Kind == apify.ErrEmptyResult {
			return []models.Comment{}, nil
		}
		return nil, fmt.Errorf("tiktok comments scrape failed: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	comments := make([]models.Comment, 0, len(items))
	for _, rawItem := range items {
		var item tiktokComment
		if err := json.Unmarshal(rawItem, &item); err != nil {
			log.Warn().Err(err).Msg("Skipping undecodable TikTok comment")
			continue
		}

		comment := models.Comment{
			ID:          pickString(item.CID, item.ID),
			Text:        item.Text,
			Author:      pickString(item.UniqueID, item.Author),
			Platform:    models.PlatformTikTok,
			LikeCount:   pickInt64(item.DiggCount, item.LikeCount),
			ReplyCount:  pickInt64(item.ReplyCommentTotal, item.ReplyCount),
			PublishedAt: pickString(item.CreateTimeISO, item.PublishedAt, now),
			ScrapedAt:   now,
		}
		if comment.ID == "" || comment.Text == "" || comment.Author == "" {
			continue
		}
		comments = append(comments, comment)
	}

	log.Info().
		Int("total", len(items)).
		Int("valid", len(comments)).
		Msg("TikTok comments fetched")

	return comments, nil
}

// decodeHashtags accepts both hashtag encodings the actor has used: plain
// strings and {"name": ...} objects.
func decodeHashtags(raw []json.RawMessage) []string {
	tags := make([]string, 0, len(raw))
	for _, entry := range raw {
		var s string
		if err := json.Unmarshal(entry, &s); err == nil {
			if s != "" {
				tags = append(tags, s)
			}
			continue
		}
		var obj struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(entry, &obj); err == nil && obj.Name != "" {
			tags = append(tags, obj.Name)
		}
	}
	return tags
}

// engagementRatio computes interactions over views as a 0-1 fraction,
// rounded to 4 decimal places. Zero views yields zero.
func engagementRatio(views, interactions int64) float64 {
	if views == 0 {
		return 0
	}
	return round4(float64(interactions) / float64(views))
}

func pickInt64(values ...int64) int64 {
	for _, v := range values {
		if v != 0 {
			return v
		}
	}
	return 0
}

func pickString(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
