package pipeline

import (
	"fmt"
	"time"

	"golang.org/x/text/language"

	"server/internal/domain"
)

// Default prompts and fallback analysis text keyed by supported base
// language. Locale tags from job records are matched leniently, so
// "id-ID" and "id" both resolve to Indonesian.
var promptLanguages = []language.Tag{
	language.English, // fallback
	language.Indonesian,
	language.Spanish,
}

var promptMatcher = language.NewMatcher(promptLanguages)

var defaultPrompts = map[language.Tag]string{
	language.English:    "Enhance this product photo: clean background, balanced lighting, crisp focus.",
	language.Indonesian: "Perbaiki foto produk ini: latar bersih, pencahayaan seimbang, fokus tajam.",
	language.Spanish:    "Mejora esta foto de producto: fondo limpio, iluminación equilibrada, enfoque nítido.",
}

var fallbackAnalyses = map[language.Tag]string{
	language.English:    "A user-submitted product photo suitable for general enhancement.",
	language.Indonesian: "Foto produk kiriman pengguna yang cocok untuk penyempurnaan umum.",
	language.Spanish:    "Una foto de producto enviada por el usuario apta para mejoras generales.",
}

func matchLanguage(locale string) language.Tag {
	tag, err := language.Parse(locale)
	if err != nil {
		return language.English
	}
	_, index, _ := promptMatcher.Match(tag)
	return promptLanguages[index]
}

// defaultPrompt returns the generic prompt used when a job carries none.
func defaultPrompt(locale string) string {
	return defaultPrompts[matchLanguage(locale)]
}

// fallbackAnalysis is the text fed to the editor when analysis fails.
func fallbackAnalysis(locale string) string {
	return fallbackAnalyses[matchLanguage(locale)]
}

func completionNotification(job domain.Job, at time.Time) domain.Notification {
	return domain.Notification{
		JobID:     job.ID,
		UserID:    job.UserID,
		Status:    job.Status,
		Message:   "Your image is ready.",
		Timestamp: at.UTC().Format(time.RFC3339),
		Data: map[string]any{
			"finalStorageKey": job.FinalStorageKey,
		},
	}
}

func failureNotification(job domain.Job, at time.Time) domain.Notification {
	return domain.Notification{
		JobID:     job.ID,
		UserID:    job.UserID,
		Status:    job.Status,
		Message:   "Image processing failed.",
		Timestamp: at.UTC().Format(time.RFC3339),
		Data: map[string]any{
			"error": job.ErrorMessage,
		},
	}
}

func batchCompletionNotification(batch domain.BatchJob, at time.Time) domain.Notification {
	return domain.Notification{
		JobID:     batch.ID,
		UserID:    batch.UserID,
		Status:    batch.Status,
		Message:   fmt.Sprintf("All %d images in your batch are ready.", batch.TotalCount),
		Timestamp: at.UTC().Format(time.RFC3339),
		Data: map[string]any{
			"totalCount":   batch.TotalCount,
			"sharedPrompt": batch.SharedPrompt,
		},
	}
}
