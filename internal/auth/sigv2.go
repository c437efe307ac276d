package auth

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/seaward/skiff/internal/metadata"
)

// v2SubResources are the query parameters included in the V2 canonicalized
// resource.
var v2SubResources = []string{
	"acl", "cors", "delete", "lifecycle", "location", "logging",
	"notification", "partNumber", "policy", "replication", "requestPayment",
	"restore", "tagging", "torrent", "uploadId", "uploads", "versionId",
	"versioning", "versions", "website",
}

// VerifyPresignedV2 verifies a legacy V2 presigned-URL request
// (?AWSAccessKeyId=...&Expires=...&Signature=...).
func (v *Verifier) VerifyPresignedV2(r *http.Request) (*metadata.AccessKey, *AuthError) {
	query := r.URL.Query()

	accessKeyID := query.Get("AWSAccessKeyId")
	expires := query.Get("Expires")
	provided := query.Get("Signature")
	if accessKeyID == "" || expires == "" || provided == "" {
		return nil, errAccessDenied
	}

	expiresAt, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return nil, errAccessDenied
	}
	if time.Now().UTC().Unix() > expiresAt {
		return nil, errExpired
	}

	key, authErr := v.lookupKey(r, accessKeyID)
	if authErr != nil {
		return nil, authErr
	}

	stringToSign := r.Method + "\n" +
		r.Header.Get("Content-MD5") + "\n" +
		r.Header.Get("Content-Type") + "\n" +
		expires + "\n" +
		canonicalizedAmzHeaders(r) +
		canonicalizedResourceV2(r)

	mac := hmac.New(sha1.New, []byte(key.SecretAccessKey))
	mac.Write([]byte(stringToSign))
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	if subtle.ConstantTimeCompare([]byte(expected), []byte(provided)) != 1 {
		return nil, errBadSignature
	}
	return key, nil
}

// canonicalizedAmzHeaders folds the x-amz-* headers into the V2 form: each
// lowercased name with its comma-joined values, sorted, one per line.
func canonicalizedAmzHeaders(r *http.Request) string {
	var names []string
	for name := range r.Header {
		if lower := strings.ToLower(name); strings.HasPrefix(lower, "x-amz-") {
			names = append(names, lower)
		}
	}
	if len(names) == 0 {
		return ""
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		values := r.Header.Values(name)
		for i, val := range values {
			values[i] = strings.TrimSpace(val)
		}
		b.WriteString(name)
		b.WriteString(":")
		b.WriteString(strings.Join(values, ","))
		b.WriteString("\n")
	}
	return b.String()
}

// canonicalizedResourceV2 is the request path plus any recognized
// sub-resource query parameters, sorted, appended as ?k=v pairs.
func canonicalizedResourceV2(r *http.Request) string {
	resource := r.URL.Path
	if resource == "" {
		resource = "/"
	}

	query := r.URL.Query()
	var subs []string
	for _, k := range v2SubResources {
		if vals, ok := query[k]; ok {
			if len(vals) > 0 && vals[0] != "" {
				subs = append(subs, k+"="+vals[0])
			} else {
				subs = append(subs, k)
			}
		}
	}
	if len(subs) > 0 {
		sort.Strings(subs)
		resource += "?" + strings.Join(subs, "&")
	}
	return resource
}

// IsPresignedV2 reports whether the request carries V2 presigned query
// credentials.
func IsPresignedV2(r *http.Request) bool {
	q := r.URL.Query()
	return q.Get("AWSAccessKeyId") != "" && q.Get("Signature") != ""
}

// IsPresignedV4 reports whether the request carries V4 presigned query
// credentials.
func IsPresignedV4(r *http.Request) bool {
	return r.URL.Query().Get("X-Amz-Algorithm") != ""
}
