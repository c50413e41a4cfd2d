package dut

// Cache buckets used by the built-in backends.
const (
	BucketPortTarget = "port-target"
	BucketPortApp    = "port-app"
)

// Cache memoizes slow-to-compute facts for a test session, such as the
// chip target behind a serial port.
type Cache interface {
	Get(bucket, key string) (string, bool)
	Set(bucket, key, value string)
}

// Memo returns the cached value of key, computing and storing it on a
// miss. A nil cache always computes.
func Memo(c Cache, bucket, key string, compute func() (string, error)) (string, error) {
	if c != nil {
		if v, ok := c.Get(bucket, key); ok {
			return v, nil
		}
	}
	v, err := compute()
	if err != nil {
		return "", err
	}
	if c != nil {
		c.Set(bucket, key, v)
	}
	return v, nil
}
