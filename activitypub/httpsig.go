package activitypub

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"code.superseriousbusiness.org/httpsig"
	"github.com/okapi-social/okapi/util"
)

// Header names covered by outbound signatures, in signing order.
var signedHeaderNames = []string{"(request-target)", "host", "date", "digest"}

// SignRequest prepares and signs an outgoing HTTP request with the given
// private key. The canonical header set (Date, Host, Accept, User-Agent,
// Content-Type, Digest) is filled in before signing.
// keyId format: "https://example.com/users/alice#public-key"
func SignRequest(req *http.Request, body []byte, privateKey *rsa.PrivateKey, keyId string) error {
	if req.Header.Get("Date") == "" {
		req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	}
	req.Host = req.URL.Host
	req.Header.Set("Host", req.URL.Host)
	req.Header.Set("Accept", "application/activity+json")
	req.Header.Set("User-Agent", util.UserAgent())
	req.Header.Set("Content-Type", "application/activity+json")
	if body != nil {
		req.Header.Set("Digest", ComputeDigest(body))
	}

	signer, _, err := httpsig.NewSigner(
		[]httpsig.Algorithm{httpsig.RSA_SHA256},
		httpsig.DigestSha256,
		signedHeaderNames,
		httpsig.Signature,
		0,
	)
	if err != nil {
		return fmt.Errorf("failed to create signer: %w", err)
	}

	return signer.SignRequest(privateKey, keyId, req, nil)
}

// ComputeDigest returns the Digest header value for a request body.
func ComputeDigest(body []byte) string {
	hash := sha256.Sum256(body)
	return "SHA-256=" + base64.StdEncoding.EncodeToString(hash[:])
}

// SignatureData is the parsed form of a Signature header.
type SignatureData struct {
	KeyId     string
	Algorithm string
	Headers   []string
	Signature string
}

// ActorURI strips the key fragment from the keyId.
// "https://example.com/users/alice#public-key" -> "https://example.com/users/alice"
func (sd *SignatureData) ActorURI() string {
	return strings.Split(sd.KeyId, "#")[0]
}

// ParseSignatureHeader parses a Signature header of comma-separated
// key="value" pairs. It validates that keyId is a well-formed URL and that
// the headers and signature fields are present. It never panics; malformed
// input yields an error for the caller to branch on.
func ParseSignatureHeader(raw string) (*SignatureData, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, errors.New("empty signature header")
	}

	data := &SignatureData{}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		idx := strings.Index(part, "=")
		if idx < 1 {
			continue
		}
		key := part[:idx]
		value := strings.Trim(part[idx+1:], `"`)

		switch key {
		case "keyId":
			data.KeyId = value
		case "algorithm":
			data.Algorithm = value
		case "headers":
			data.Headers = strings.Fields(strings.ToLower(value))
		case "signature":
			data.Signature = value
		}
	}

	if data.KeyId == "" {
		return nil, errors.New("signature header missing keyId")
	}
	parsed, err := url.Parse(data.KeyId)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("keyId is not a valid URL: %q", data.KeyId)
	}
	if len(data.Headers) == 0 {
		return nil, errors.New("signature header missing headers field")
	}
	if data.Signature == "" {
		return nil, errors.New("signature header missing signature field")
	}

	return data, nil
}

// VerifyResult is the three-state outcome of signature verification.
// Callers must treat only VerifyValid as success: a clean mismatch and a
// crypto-level failure (malformed key, undecodable signature) are distinct.
type VerifyResult int

const (
	VerifyError   VerifyResult = -1
	VerifyInvalid VerifyResult = 0
	VerifyValid   VerifyResult = 1
)

// Verify checks an inbound request signature against a public key. The
// signing string is reconstructed strictly in the header order declared by
// the Signature header; (request-target) is synthesized from the actual
// request path and digest is recomputed from the actual body rather than
// trusting the transmitted Digest header, so a tampered body/Digest pair
// cannot validate. Returns the result and the reconstructed signing string.
func Verify(publicKeyPem string, sig *SignatureData, headers http.Header, requestPath string, body []byte) (VerifyResult, string) {
	pubKey, err := ParsePublicKey(publicKeyPem)
	if err != nil {
		return VerifyError, ""
	}

	digest := ComputeDigest(body)

	lines := make([]string, 0, len(sig.Headers))
	for _, name := range sig.Headers {
		switch name {
		case "(request-target)":
			lines = append(lines, fmt.Sprintf("(request-target): post %s", requestPath))
		case "digest":
			lines = append(lines, fmt.Sprintf("digest: %s", digest))
		default:
			value := headers.Get(name)
			if value == "" {
				// A declared header we cannot reconstruct
				return VerifyError, ""
			}
			lines = append(lines, fmt.Sprintf("%s: %s", name, value))
		}
	}
	signingString := strings.Join(lines, "\n")

	sigBytes, err := base64.StdEncoding.DecodeString(sig.Signature)
	if err != nil {
		return VerifyError, signingString
	}

	hashed := sha256.Sum256([]byte(signingString))
	err = rsa.VerifyPKCS1v15(pubKey, crypto.SHA256, hashed[:], sigBytes)
	if err == nil {
		return VerifyValid, signingString
	}
	if errors.Is(err, rsa.ErrVerification) {
		return VerifyInvalid, signingString
	}
	return VerifyError, signingString
}

// ParsePrivateKey converts PEM string to *rsa.PrivateKey
func ParsePrivateKey(pemString string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemString))
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block")
	}

	privateKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	return privateKey, nil
}

// ParsePublicKey converts PEM string to *rsa.PublicKey. PKIX encoding is
// the fediverse norm; PKCS#1 is accepted as a fallback for older peers.
func ParsePublicKey(pemString string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemString))
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block")
	}

	pubKey, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		if pkcs1Key, pkcs1Err := x509.ParsePKCS1PublicKey(block.Bytes); pkcs1Err == nil {
			return pkcs1Key, nil
		}
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}

	rsaPubKey, ok := pubKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA public key")
	}

	return rsaPubKey, nil
}
