package domain

// ArticleFilter narrows article queries. Zero values mean "no constraint":
// MinScore 0 is no floor, MaxScore 0 is no ceiling, Days 0 is unbounded.
type ArticleFilter struct {
	MinScore int
	MaxScore int
	Category Category
	Platform Platform
	// Tags combine with AND semantics: an article must carry every
	// selected pair.
	Tags   []TagPair
	Search string
	Days   int
	Limit  int
	Offset int
}

// HistogramBucket is one ten-point score range. Bucket is the lower bound
// (0, 10, ..., 100); a perfect 100 gets its own bucket.
type HistogramBucket struct {
	Bucket int `json:"bucket"`
	Count  int `json:"count"`
}
