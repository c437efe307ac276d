package auth

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/seaward/skiff/internal/metadata"
)

// PresignGetURL builds a V4 presigned GET URL for an object, valid for the
// given duration. baseURL is the externally reachable endpoint, e.g.
// "http://localhost:3000".
func PresignGetURL(baseURL string, key *metadata.AccessKey, region, bucket, objectKey string, expires time.Duration) (string, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint: %w", err)
	}
	if base.Host == "" {
		return "", fmt.Errorf("endpoint %q has no host", baseURL)
	}

	now := time.Now().UTC()
	amzDate := now.Format(amzDateFormat)
	date := now.Format("20060102")
	scope := date + "/" + region + "/s3/aws4_request"

	path := "/" + bucket + "/" + objectKey

	params := url.Values{}
	params.Set("X-Amz-Algorithm", algorithmV4)
	params.Set("X-Amz-Credential", key.AccessKeyID+"/"+scope)
	params.Set("X-Amz-Date", amzDate)
	params.Set("X-Amz-Expires", fmt.Sprintf("%d", int64(expires.Seconds())))
	params.Set("X-Amz-SignedHeaders", "host")

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var queryParts []string
	for _, k := range keys {
		queryParts = append(queryParts, uriEncode(k, true)+"="+uriEncode(params.Get(k), true))
	}
	canonicalQuery := strings.Join(queryParts, "&")

	canonicalRequest := strings.Join([]string{
		"GET",
		canonicalURI(path),
		canonicalQuery,
		"host:" + base.Host + "\n",
		"host",
		unsignedPayload,
	}, "\n")

	stringToSign := algorithmV4 + "\n" + amzDate + "\n" + scope + "\n" + sha256Hex(canonicalRequest)

	kDate := hmacSHA256([]byte("AWS4"+key.SecretAccessKey), date)
	kRegion := hmacSHA256(kDate, region)
	kService := hmacSHA256(kRegion, "s3")
	kSigning := hmacSHA256(kService, "aws4_request")
	signature := hex.EncodeToString(hmacSHA256(kSigning, stringToSign))

	return base.Scheme + "://" + base.Host + canonicalURI(path) + "?" + canonicalQuery +
		"&X-Amz-Signature=" + signature, nil
}
