package models

// OffsiteConfig describes the S3 bucket that receives a copy of every artifact.
type OffsiteConfig struct {
	Bucket       string
	Region       string
	Prefix       string // key prefix inside the bucket
	Endpoint     string // optional S3-compatible endpoint
	StorageClass string
	MaxAttempts  int
}

// OffsiteResult holds the result of copying one VM's artifacts offsite.
type OffsiteResult struct {
	Uploaded []string // object keys written
	Pruned   []string // object keys removed
}
