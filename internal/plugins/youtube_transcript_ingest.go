package plugins

import (
	"bufio"
	"context"
	"encoding/xml"
	"fmt"
	"html"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kkdai/youtube/v2"
	"github.com/lamb-project/lamb-kb-server/internal/apierr"
	"github.com/lamb-project/lamb-kb-server/pkg/models"
)

// YoutubeTranscriptIngest fetches caption tracks for one or more videos via
// kkdai/youtube, groups consecutive captions into chunk_duration-second
// windows, and emits one chunk per window. Videos without available
// captions are skipped; a job that ends with zero chunks fails.
type YoutubeTranscriptIngest struct {
	Client *http.Client
}

func NewYoutubeTranscriptIngest() *YoutubeTranscriptIngest {
	return &YoutubeTranscriptIngest{Client: &http.Client{Timeout: 30 * time.Second}}
}

func (p *YoutubeTranscriptIngest) Name() string { return "youtube_transcript_ingest" }
func (p *YoutubeTranscriptIngest) Kind() Kind   { return KindRemoteIngest }
func (p *YoutubeTranscriptIngest) Description() string {
	return "Fetches YouTube caption tracks and chunks them into timed windows."
}
func (p *YoutubeTranscriptIngest) SupportedFileTypes() []string { return []string{".txt"} }

func (p *YoutubeTranscriptIngest) Parameters() []ParamSchema {
	return []ParamSchema{
		{Name: "video_url", Type: "string", Description: "single video URL; alternative to a file of URLs"},
		{Name: "language", Type: "string", Description: "preferred caption language code, e.g. \"en\""},
		{Name: "chunk_duration", Type: "int", Default: 60, Description: "seconds of transcript grouped into one chunk"},
	}
}

func (p *YoutubeTranscriptIngest) Ingest(ctx context.Context, req IngestRequest) ([]models.Chunk, error) {
	urls, err := p.resolveURLs(req)
	if err != nil {
		return nil, err
	}

	language, _ := req.Params["language"].(string)
	chunkDuration := 60
	if v, ok := req.Params["chunk_duration"]; ok {
		chunkDuration = toInt(v, chunkDuration)
	}
	if chunkDuration <= 0 {
		chunkDuration = 60
	}

	client := youtube.Client{HTTPClient: p.httpClient()}
	now := time.Now().UTC().Format(time.RFC3339)

	var chunks []models.Chunk
	for _, url := range urls {
		video, err := client.GetVideoContext(ctx, url)
		if err != nil {
			continue // video unreachable or removed: skip
		}

		track := pickCaptionTrack(video.CaptionTracks, language)
		if track == nil {
			continue // no captions available: skip silently
		}

		captions, err := fetchCaptions(ctx, p.httpClient(), track.BaseURL)
		if err != nil || len(captions) == 0 {
			continue
		}

		windows := groupCaptions(captions, float64(chunkDuration))
		for i, w := range windows {
			chunks = append(chunks, models.Chunk{
				Text: w.Text,
				Metadata: map[string]interface{}{
					models.MetaSource:             url,
					models.MetaFileURL:            url,
					models.MetaChunkingStrategy:   "youtube_transcript",
					models.MetaChunkIndex:         i,
					models.MetaChunkCount:         len(windows),
					models.MetaIngestionTimestamp: now,
					models.MetaDocumentID:         uuid.NewString(),
					"video_id":                    video.ID,
					"language":                    track.LanguageCode,
					"source_url":                  url,
					"start_time":                  w.Start,
					"end_time":                    w.End,
					"start_timestamp":             formatTimestamp(w.Start),
					"end_timestamp":               formatTimestamp(w.End),
				},
			})
		}
	}

	if len(chunks) == 0 {
		return nil, apierr.PluginError("youtube_transcript_ingest: no captions produced for any requested video")
	}
	return chunks, nil
}

func (p *YoutubeTranscriptIngest) httpClient() *http.Client {
	if p.Client != nil {
		return p.Client
	}
	return http.DefaultClient
}

// resolveURLs accepts either a single video_url parameter or a text file
// with one URL per line.
func (p *YoutubeTranscriptIngest) resolveURLs(req IngestRequest) ([]string, error) {
	if v, ok := req.Params["video_url"].(string); ok && v != "" {
		return []string{v}, nil
	}
	if len(req.URLs) > 0 {
		return req.URLs, nil
	}
	if req.FilePath == "" {
		return nil, apierr.BadInput("youtube_transcript_ingest: video_url or a file of URLs is required")
	}
	f, err := os.Open(req.FilePath)
	if err != nil {
		return nil, apierr.PluginError(fmt.Sprintf("youtube_transcript_ingest: read %s: %v", req.FilePath, err))
	}
	defer f.Close()

	var urls []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			urls = append(urls, line)
		}
	}
	if len(urls) == 0 {
		return nil, apierr.BadInput("youtube_transcript_ingest: no video URLs found in %s", req.FilePath)
	}
	return urls, nil
}

func pickCaptionTrack(tracks []youtube.CaptionTrack, preferred string) *youtube.CaptionTrack {
	if len(tracks) == 0 {
		return nil
	}
	if preferred != "" {
		for i := range tracks {
			if tracks[i].LanguageCode == preferred {
				return &tracks[i]
			}
		}
	}
	for i := range tracks {
		if strings.HasPrefix(tracks[i].LanguageCode, "en") {
			return &tracks[i]
		}
	}
	return &tracks[0]
}

// timedTextDoc mirrors YouTube's timedtext XML caption format.
type timedTextDoc struct {
	XMLName xml.Name `xml:"transcript"`
	Texts   []struct {
		Start string `xml:"start,attr"`
		Dur   string `xml:"dur,attr"`
		Text  string `xml:",chardata"`
	} `xml:"text"`
}

type caption struct {
	Start float64
	End   float64
	Text  string
}

func fetchCaptions(ctx context.Context, client *http.Client, baseURL string) ([]caption, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("caption track fetch: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var doc timedTextDoc
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("parse caption xml: %w", err)
	}

	captions := make([]caption, 0, len(doc.Texts))
	for _, t := range doc.Texts {
		start, _ := strconv.ParseFloat(t.Start, 64)
		dur, _ := strconv.ParseFloat(t.Dur, 64)
		text := strings.TrimSpace(html.UnescapeString(t.Text))
		if text == "" {
			continue
		}
		captions = append(captions, caption{Start: start, End: start + dur, Text: text})
	}
	return captions, nil
}

// groupCaptions merges consecutive captions until the running window
// reaches chunkSeconds, per the youtube_transcript_ingest contract.
func groupCaptions(captions []caption, chunkSeconds float64) []caption {
	if len(captions) == 0 {
		return nil
	}
	var windows []caption
	cur := captions[0]
	cur.End = captions[0].End
	var sb strings.Builder
	sb.WriteString(captions[0].Text)

	for _, c := range captions[1:] {
		if c.Start-cur.Start >= chunkSeconds {
			windows = append(windows, caption{Start: cur.Start, End: cur.End, Text: sb.String()})
			cur = c
			sb.Reset()
			sb.WriteString(c.Text)
			continue
		}
		sb.WriteString(" ")
		sb.WriteString(c.Text)
		cur.End = c.End
	}
	windows = append(windows, caption{Start: cur.Start, End: cur.End, Text: sb.String()})
	return windows
}

func formatTimestamp(seconds float64) string {
	d := time.Duration(seconds * float64(time.Second))
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
