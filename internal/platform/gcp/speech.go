package gcp

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"path/filepath"
	"strings"

	"cloud.google.com/go/longrunning/autogen/longrunningpb"
	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/durationpb"

	domain "github.com/yungbote/neurobridge-transcribe/internal/domain/transcription"
	"github.com/yungbote/neurobridge-transcribe/internal/platform/ctxutil"
	"github.com/yungbote/neurobridge-transcribe/internal/platform/logger"
)

const (
	SpeechProviderName = "gcp_speech"
	speechResultFormat = "google.cloud.speech.v1.LongRunningRecognizeResponse"
)

// speechProvider drives Cloud Speech long-running recognition. The external
// job id is the operation name; the result lives on the operation itself.
type speechProvider struct {
	log    *logger.Logger
	client *speech.Client
}

func NewSpeechProvider(log *logger.Logger, endpoint string) (domain.Provider, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	slog := log.With("service", "gcp.SpeechProvider")

	opts := ClientOptionsFromEnv()
	if endpoint = strings.TrimSpace(endpoint); endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
	}
	c, err := speech.NewClient(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("speech client: %w", err)
	}
	return &speechProvider{log: slog, client: c}, nil
}

func (s *speechProvider) Name() string { return SpeechProviderName }

func (s *speechProvider) Limits() domain.ProviderLimits {
	return domain.ProviderLimits{MaxInputs: 1, Schemes: []string{"gs"}}
}

func (s *speechProvider) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *speechProvider) Submit(ctx context.Context, inputs []string, hints domain.Hints) (*domain.ProviderJob, error) {
	ctx = ctxutil.Default(ctx)
	if len(inputs) != 1 {
		return nil, &domain.ProviderError{Provider: SpeechProviderName, Op: "submit", Code: "InvalidArgument", Message: "exactly one input per operation"}
	}
	uri := inputs[0]
	req := &speechpb.LongRunningRecognizeRequest{
		Config: buildSpeechRecognitionConfig(uri, hints),
		Audio:  &speechpb.RecognitionAudio{AudioSource: &speechpb.RecognitionAudio_Uri{Uri: uri}},
	}
	op, err := s.client.LongRunningRecognize(ctx, req)
	if err != nil {
		return nil, speechError("submit", err)
	}
	s.log.Debug("speech operation started", "operation", op.Name(), "input", uri)
	return &domain.ProviderJob{ExternalID: op.Name(), State: "PENDING"}, nil
}

func (s *speechProvider) Fetch(ctx context.Context, externalID string) (*domain.ProviderJob, error) {
	ctx = ctxutil.Default(ctx)
	op := s.client.LongRunningRecognizeOperation(externalID)
	_, err := op.Poll(ctx)
	if err != nil && !op.Done() {
		return nil, speechError("fetch", err)
	}

	out := &domain.ProviderJob{ExternalID: externalID}
	var inputURI string
	if meta, metaErr := op.Metadata(); metaErr == nil && meta != nil {
		inputURI = meta.GetUri()
		out.State = speechOperationState(op.Done(), meta.GetProgressPercent())
	} else {
		out.State = speechOperationState(op.Done(), 0)
	}

	switch {
	case err != nil:
		// Done with an error status: the operation itself failed.
		out.State = "FAILED"
		if st, ok := status.FromError(err); ok {
			if st.Code() == codes.Canceled {
				out.State = "CANCELED"
			}
			out.ErrorCode = st.Code().String()
			out.ErrorMessage = st.Message()
		} else {
			out.ErrorMessage = err.Error()
		}
	case op.Done():
		out.Results = []domain.ResultRef{{InputRef: inputURI, URL: externalID, Format: speechResultFormat}}
	}
	return out, nil
}

func (s *speechProvider) Cancel(ctx context.Context, externalID string) error {
	ctx = ctxutil.Default(ctx)
	if s.client.LROClient == nil {
		return &domain.ProviderError{Provider: SpeechProviderName, Op: "cancel", Code: "Unimplemented", Message: "operations client unavailable"}
	}
	err := s.client.LROClient.CancelOperation(ctx, &longrunningpb.CancelOperationRequest{Name: externalID})
	if err != nil {
		return speechError("cancel", err)
	}
	return nil
}

// DownloadResult re-reads the finished operation and returns its response
// as protojson.
func (s *speechProvider) DownloadResult(ctx context.Context, ref domain.ResultRef) ([]byte, error) {
	ctx = ctxutil.Default(ctx)
	op := s.client.LongRunningRecognizeOperation(ref.URL)
	resp, err := op.Poll(ctx)
	if err != nil {
		return nil, speechError("download", err)
	}
	if !op.Done() || resp == nil {
		return nil, &domain.ProviderError{Provider: SpeechProviderName, Op: "download", Code: "FailedPrecondition", Message: "operation has no response"}
	}
	raw, err := protojson.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("marshal speech response: %w", err)
	}
	return raw, nil
}

func (s *speechProvider) ParseTranscript(raw []byte, ref domain.ResultRef) (*domain.TranscriptItem, error) {
	var resp speechpb.LongRunningRecognizeResponse
	if err := protojson.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode speech response: %w", err)
	}
	return parseSpeechResponse(ref.InputRef, &resp), nil
}

func speechError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &domain.ProviderError{Provider: SpeechProviderName, Op: op, Code: "DeadlineExceeded", Message: err.Error(), Err: err}
	}
	st, ok := status.FromError(err)
	if !ok {
		return &domain.ProviderError{Provider: SpeechProviderName, Op: op, Message: err.Error(), Err: err}
	}
	if st.Code() == codes.NotFound && op != "submit" {
		return fmt.Errorf("%w: %s", domain.ErrProviderJobNotFound, st.Message())
	}
	return &domain.ProviderError{Provider: SpeechProviderName, Op: op, Code: st.Code().String(), Message: st.Message(), Err: err}
}

// speechOperationState maps operation progress onto provider state strings.
// Speech reports no explicit queued state; zero progress counts as pending.
func speechOperationState(done bool, progressPercent int32) string {
	switch {
	case done:
		return "SUCCEEDED"
	case progressPercent > 0:
		return "RUNNING"
	default:
		return "PENDING"
	}
}

func buildSpeechRecognitionConfig(gcsURI string, h domain.Hints) *speechpb.RecognitionConfig {
	lang := h.LanguageCode
	if lang == "" {
		lang = "en-US"
	}
	rc := &speechpb.RecognitionConfig{
		LanguageCode:               lang,
		Model:                      h.Model,
		EnableAutomaticPunctuation: h.EnableAutomaticPunctuation,
		EnableWordTimeOffsets:      h.EnableWordTimeOffsets || h.EnableSpeakerDiarization,
		Encoding:                   inferSpeechEncoding(gcsURI),
	}
	if h.EnableSpeakerDiarization {
		rc.DiarizationConfig = &speechpb.SpeakerDiarizationConfig{
			EnableSpeakerDiarization: true,
			MinSpeakerCount:          int32(max0(h.MinSpeakerCount)),
			MaxSpeakerCount:          int32(max0(h.MaxSpeakerCount)),
		}
	}
	return rc
}

func inferSpeechEncoding(uri string) speechpb.RecognitionConfig_AudioEncoding {
	p := uri
	if u, err := url.Parse(uri); err == nil && u.Path != "" {
		p = u.Path
	}
	switch strings.ToLower(filepath.Ext(p)) {
	case ".wav":
		return speechpb.RecognitionConfig_LINEAR16
	case ".flac":
		return speechpb.RecognitionConfig_FLAC
	case ".mp3":
		return speechpb.RecognitionConfig_MP3
	case ".ogg", ".opus":
		return speechpb.RecognitionConfig_OGG_OPUS
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED
	}
}

type speechWord struct {
	w   string
	s   float64
	e   float64
	spk int
	c   float64
}

func parseSpeechResponse(inputRef string, resp *speechpb.LongRunningRecognizeResponse) *domain.TranscriptItem {
	out := &domain.TranscriptItem{InputRef: inputRef}
	if resp == nil || len(resp.Results) == 0 {
		out.Warnings = append(out.Warnings, "provider returned no recognition results")
		return out
	}

	words := []speechWord{}
	diarized := false
	var full strings.Builder
	for _, r := range resp.Results {
		if r == nil || len(r.Alternatives) == 0 || r.Alternatives[0] == nil {
			continue
		}
		alt := r.Alternatives[0]
		if strings.TrimSpace(alt.Transcript) != "" {
			if full.Len() > 0 {
				full.WriteString(" ")
			}
			full.WriteString(strings.TrimSpace(alt.Transcript))
		}
		for _, ww := range alt.Words {
			if ww == nil {
				continue
			}
			if ww.SpeakerTag > 0 {
				diarized = true
			}
			words = append(words, speechWord{
				w:   ww.Word,
				s:   durToSec(ww.StartTime),
				e:   durToSec(ww.EndTime),
				spk: int(ww.SpeakerTag),
				c:   float64(ww.Confidence),
			})
		}
	}
	out.PrimaryText = strings.TrimSpace(full.String())

	switch {
	case diarized:
		// With diarization the last result repeats every word with speaker
		// tags; only that pass carries them.
		tagged := words[:0:0]
		for _, w := range words {
			if w.spk > 0 {
				tagged = append(tagged, w)
			}
		}
		out.Segments = groupBySpeaker(tagged)
	case len(words) > 0:
		out.Segments = groupByTime(words, 10.0)
	case out.PrimaryText != "":
		out.Segments = []domain.Segment{{Text: out.PrimaryText}}
	}
	return out
}

func groupBySpeaker(words []speechWord) []domain.Segment {
	if len(words) == 0 {
		return nil
	}
	segs := []domain.Segment{}
	curSpk := words[0].spk
	curStart := words[0].s
	curEnd := words[0].e
	var buf strings.Builder
	var confSum float64
	var confN int

	flush := func() {
		txt := strings.TrimSpace(buf.String())
		if txt == "" {
			return
		}
		seg := domain.Segment{Text: txt, StartSec: ptrFloat(curStart), EndSec: ptrFloat(curEnd), SpeakerTag: ptrInt(curSpk)}
		if confN > 0 {
			seg.Confidence = ptrFloat(confSum / float64(confN))
		}
		segs = append(segs, seg)
		buf.Reset()
		confSum, confN = 0, 0
	}

	for _, w := range words {
		if w.spk != curSpk && buf.Len() > 0 {
			flush()
			curSpk = w.spk
			curStart = w.s
			curEnd = w.e
		}
		if buf.Len() > 0 {
			buf.WriteString(" ")
		}
		buf.WriteString(w.w)
		curEnd = math.Max(curEnd, w.e)
		if w.c > 0 {
			confSum += w.c
			confN++
		}
	}
	flush()
	return segs
}

func groupByTime(words []speechWord, windowSec float64) []domain.Segment {
	if len(words) == 0 {
		return nil
	}
	if windowSec <= 0 {
		windowSec = 10
	}
	segs := []domain.Segment{}
	curStart := words[0].s
	curEnd := words[0].e
	var buf strings.Builder
	var confSum float64
	var confN int

	flush := func() {
		txt := strings.TrimSpace(buf.String())
		if txt == "" {
			return
		}
		seg := domain.Segment{Text: txt, StartSec: ptrFloat(curStart), EndSec: ptrFloat(curEnd)}
		if confN > 0 {
			seg.Confidence = ptrFloat(confSum / float64(confN))
		}
		segs = append(segs, seg)
		buf.Reset()
		confSum, confN = 0, 0
	}

	for _, w := range words {
		if (w.s-curStart) >= windowSec && buf.Len() > 0 {
			flush()
			curStart = w.s
			curEnd = w.e
		}
		if buf.Len() > 0 {
			buf.WriteString(" ")
		}
		buf.WriteString(w.w)
		if w.e > curEnd {
			curEnd = w.e
		}
		if w.c > 0 {
			confSum += w.c
			confN++
		}
	}
	flush()
	return segs
}

func durToSec(d *durationpb.Duration) float64 {
	if d == nil {
		return 0
	}
	return float64(d.Seconds) + float64(d.Nanos)/1e9
}

func max0(x int) int {
	if x < 0 {
		return 0
	}
	return x
}
