package s3

// ShouldUseMultipart reports whether an upload of size bytes goes through
// the multipart uploader. A negative size means the length is unknown.
func (c *Config) ShouldUseMultipart(size int64) bool {
	return size < 0 || size >= c.MultipartThreshold
}

// CalculatePartCount returns how many parts of partSize cover totalSize.
func CalculatePartCount(totalSize, partSize int64) int {
	if totalSize <= 0 || partSize <= 0 {
		return 0
	}
	return int((totalSize + partSize - 1) / partSize)
}

// EffectivePartSize grows partSize until totalSize fits in the S3 part
// limit. Unknown sizes keep the configured part size.
func EffectivePartSize(totalSize, partSize int64) int64 {
	if partSize < minPartSize {
		partSize = minPartSize
	}
	if totalSize <= 0 {
		return partSize
	}
	if CalculatePartCount(totalSize, partSize) <= maxUploadParts {
		return partSize
	}
	size := (totalSize + maxUploadParts - 1) / maxUploadParts
	// round up to a whole MiB
	const mib = 1024 * 1024
	return (size + mib - 1) / mib * mib
}

// batches splits keys into slices of at most n.
func batches(keys []string, n int) [][]string {
	if n <= 0 {
		n = deleteBatchSize
	}
	var out [][]string
	for len(keys) > 0 {
		end := n
		if end > len(keys) {
			end = len(keys)
		}
		out = append(out, keys[:end])
		keys = keys[end:]
	}
	return out
}
