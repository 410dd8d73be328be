package logger

import "context"

type contextKey string

const jobKey contextKey = "job"

// WithJob tags ctx with the name of the background job running under it.
func WithJob(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, jobKey, name)
}

// JobName returns the job tag set by WithJob, or "".
func JobName(ctx context.Context) string {
	name, _ := ctx.Value(jobKey).(string)
	return name
}
