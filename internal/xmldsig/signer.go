// Package xmldsig produces enveloped XML digital signatures for KSeF
// session initialization documents. The signature is computed over the
// exclusive-C14N form of a located element and appended as its last
// child, which is the shape the Exchange validates.
package xmldsig

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/beevik/etree"
	dsig "github.com/russellhaering/goxmldsig"
)

var (
	// ErrElementNotFound is returned when the reference path matches no element
	ErrElementNotFound = errors.New("xmldsig: reference element not found")

	// ErrInvalidKey is returned when the PEM material holds no usable RSA key
	ErrInvalidKey = errors.New("xmldsig: invalid private key material")
)

// Sign parses document, locates the element at referencePath (etree path
// syntax, e.g. "//InitSessionRequest"), and returns the document with an
// enveloped RSA-SHA256 signature appended to that element.
//
// keyPEM must contain an RSA private key (PKCS#1 or PKCS#8). It may also
// carry an X.509 certificate; when absent a throwaway self-signed
// certificate is minted for the KeyInfo block, which the KSeF test
// environment accepts.
func Sign(document []byte, referencePath string, keyPEM []byte) ([]byte, error) {
	key, cert, err := parseKeyMaterial(keyPEM)
	if err != nil {
		return nil, err
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(document); err != nil {
		return nil, fmt.Errorf("xmldsig: parse document: %w", err)
	}

	elem := findElement(doc, referencePath)
	if elem == nil {
		return nil, fmt.Errorf("%w: %s", ErrElementNotFound, referencePath)
	}

	ctx := dsig.NewDefaultSigningContext(keyStore{key: key, cert: cert})
	ctx.Hash = crypto.SHA256

	signed, err := ctx.SignEnveloped(elem)
	if err != nil {
		return nil, fmt.Errorf("xmldsig: sign element: %w", err)
	}

	if parent := elem.Parent(); parent != nil {
		idx := elem.Index()
		parent.RemoveChildAt(idx)
		parent.InsertChildAt(idx, signed)
	} else {
		doc.SetRoot(signed)
	}

	out, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("xmldsig: serialize signed document: %w", err)
	}
	return out, nil
}

// findElement resolves referencePath against doc. etree path syntax is
// tried first; for the common "//Name" form a namespace-agnostic walk by
// local tag name is the fallback, since the Exchange documents carry
// prefixed elements (ns3:InitSessionRequest).
func findElement(doc *etree.Document, referencePath string) *etree.Element {
	if elem := doc.FindElement(referencePath); elem != nil {
		return elem
	}

	name := strings.TrimPrefix(referencePath, "//")
	if name == referencePath || strings.ContainsAny(name, "/[@") {
		return nil
	}
	return findByTag(doc.Root(), name)
}

func findByTag(elem *etree.Element, tag string) *etree.Element {
	if elem == nil {
		return nil
	}
	if elem.Tag == tag {
		return elem
	}
	for _, child := range elem.ChildElements() {
		if found := findByTag(child, tag); found != nil {
			return found
		}
	}
	return nil
}

// keyStore adapts a parsed key pair to goxmldsig's X509KeyStore.
type keyStore struct {
	key  *rsa.PrivateKey
	cert []byte
}

func (s keyStore) GetKeyPair() (*rsa.PrivateKey, []byte, error) {
	return s.key, s.cert, nil
}

func parseKeyMaterial(keyPEM []byte) (*rsa.PrivateKey, []byte, error) {
	var key *rsa.PrivateKey
	var cert []byte

	rest := keyPEM
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}

		switch block.Type {
		case "RSA PRIVATE KEY":
			k, err := x509.ParsePKCS1PrivateKey(block.Bytes)
			if err != nil {
				return nil, nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
			}
			key = k
		case "PRIVATE KEY":
			k, err := x509.ParsePKCS8PrivateKey(block.Bytes)
			if err != nil {
				return nil, nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
			}
			rsaKey, ok := k.(*rsa.PrivateKey)
			if !ok {
				return nil, nil, fmt.Errorf("%w: not an RSA key", ErrInvalidKey)
			}
			key = rsaKey
		case "CERTIFICATE":
			cert = block.Bytes
		}
	}

	if key == nil {
		return nil, nil, ErrInvalidKey
	}

	if cert == nil {
		minted, err := selfSignedCert(key)
		if err != nil {
			return nil, nil, err
		}
		cert = minted
	}
	return key, cert, nil
}

func selfSignedCert(key *rsa.PrivateKey) ([]byte, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("xmldsig: generate certificate serial: %w", err)
	}

	now := time.Now()
	template := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: "ksef-signing-key"},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(24 * 365 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("xmldsig: mint signing certificate: %w", err)
	}
	return der, nil
}
