package blob

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// unsignedPayload is the SigV4 marker for requests whose body hash is not
// part of the signature. S3-compatible stores accept it over HTTPS.
const unsignedPayload = "UNSIGNED-PAYLOAD"

const (
	sigAlgorithm = "AWS4-HMAC-SHA256"
	sigService   = "s3"
)

// signerV4 implements the subset of AWS Signature Version 4 needed for
// object PUT/GET/DELETE and for presigned upload/download URLs.
type signerV4 struct {
	accessKey string
	secretKey string
	region    string
}

func (s signerV4) scope(t time.Time) string {
	return t.UTC().Format("20060102") + "/" + s.region + "/" + sigService + "/aws4_request"
}

func (s signerV4) signingKey(t time.Time) []byte {
	kDate := hmacSHA256([]byte("AWS4"+s.secretKey), t.UTC().Format("20060102"))
	kRegion := hmacSHA256(kDate, s.region)
	kService := hmacSHA256(kRegion, sigService)
	return hmacSHA256(kService, "aws4_request")
}

// Sign adds SigV4 authentication headers to req in place.
func (s signerV4) Sign(req *http.Request, payloadHash string, t time.Time) {
	amzDate := t.UTC().Format("20060102T150405Z")
	req.Header.Set("x-amz-date", amzDate)
	req.Header.Set("x-amz-content-sha256", payloadHash)

	signedHeaders := "host;x-amz-content-sha256;x-amz-date"
	canonicalHeaders := "host:" + req.URL.Host + "\n" +
		"x-amz-content-sha256:" + payloadHash + "\n" +
		"x-amz-date:" + amzDate + "\n"

	canonical := strings.Join([]string{
		req.Method,
		uriEncodePath(req.URL.Path),
		canonicalQuery(req.URL.Query()),
		canonicalHeaders,
		signedHeaders,
		payloadHash,
	}, "\n")

	signature := s.signature(canonical, t)
	req.Header.Set("Authorization", sigAlgorithm+
		" Credential="+s.accessKey+"/"+s.scope(t)+
		", SignedHeaders="+signedHeaders+
		", Signature="+signature)
}

// Presign returns a copy of u carrying query-string authentication valid
// for expiresIn.
func (s signerV4) Presign(method string, u url.URL, t time.Time, expiresIn time.Duration) string {
	amzDate := t.UTC().Format("20060102T150405Z")

	q := u.Query()
	q.Set("X-Amz-Algorithm", sigAlgorithm)
	q.Set("X-Amz-Credential", s.accessKey+"/"+s.scope(t))
	q.Set("X-Amz-Date", amzDate)
	q.Set("X-Amz-Expires", strconv.FormatInt(int64(expiresIn.Seconds()), 10))
	q.Set("X-Amz-SignedHeaders", "host")

	canonical := strings.Join([]string{
		method,
		uriEncodePath(u.Path),
		canonicalQuery(q),
		"host:" + u.Host + "\n",
		"host",
		unsignedPayload,
	}, "\n")

	q.Set("X-Amz-Signature", s.signature(canonical, t))
	u.RawQuery = q.Encode()
	return u.String()
}

func (s signerV4) signature(canonicalRequest string, t time.Time) string {
	hashed := sha256.Sum256([]byte(canonicalRequest))
	stringToSign := strings.Join([]string{
		sigAlgorithm,
		t.UTC().Format("20060102T150405Z"),
		s.scope(t),
		hex.EncodeToString(hashed[:]),
	}, "\n")
	return hex.EncodeToString(hmacSHA256(s.signingKey(t), stringToSign))
}

func hmacSHA256(key []byte, msg string) []byte {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(msg))
	return h.Sum(nil)
}

// canonicalQuery encodes query parameters with aws-style percent escaping,
// sorted by key then value.
func canonicalQuery(q url.Values) string {
	type kv struct{ k, v string }
	var pairs []kv
	for k, vs := range q {
		for _, v := range vs {
			pairs = append(pairs, kv{uriEncode(k), uriEncode(v)})
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].k != pairs[j].k {
			return pairs[i].k < pairs[j].k
		}
		return pairs[i].v < pairs[j].v
	})
	parts := make([]string, len(pairs))
	for i, p := range pairs {
		parts[i] = p.k + "=" + p.v
	}
	return strings.Join(parts, "&")
}

// uriEncodePath encodes a URL path per SigV4 rules, preserving slashes.
func uriEncodePath(path string) string {
	if path == "" {
		return "/"
	}
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		segments[i] = uriEncode(seg)
	}
	return strings.Join(segments, "/")
}

// uriEncode percent-escapes everything except the SigV4 unreserved set.
func uriEncode(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9',
			c == '-', c == '.', c == '_', c == '~':
			b.WriteByte(c)
		default:
			b.WriteString("%" + strings.ToUpper(hex.EncodeToString([]byte{c})))
		}
	}
	return b.String()
}
