package recognition

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"os"
	"strings"
	"syscall"

	"github.com/MeKo-Tech/snaprec/internal/failure"
)

// Classify maps a transport error onto the failure taxonomy. Checks run in
// a fixed order so that the result is unambiguous: timeout, TLS,
// connection, then unknown. Errors that are already classified pass through.
func Classify(err error) *failure.Error {
	if err == nil {
		return nil
	}
	var classified *failure.Error
	if errors.As(err, &classified) {
		return classified
	}

	switch {
	case isTimeout(err):
		return failure.New(failure.KindTimeout, op, err)
	case isTLS(err):
		return failure.New(failure.KindTLS, op, err)
	case isConnection(err):
		return failure.New(failure.KindConnectionRefused, op, err)
	default:
		return failure.New(failure.KindUnknown, op, err)
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func isTLS(err error) bool {
	var (
		recordErr   tls.RecordHeaderError
		alertErr    tls.AlertError
		verifyErr   *tls.CertificateVerificationError
		authErr     x509.UnknownAuthorityError
		hostErr     x509.HostnameError
		invalidErr  x509.CertificateInvalidError
		sysRootsErr x509.SystemRootsError
	)
	switch {
	case errors.As(err, &recordErr), errors.As(err, &alertErr), errors.As(err, &verifyErr),
		errors.As(err, &authErr), errors.As(err, &hostErr), errors.As(err, &invalidErr),
		errors.As(err, &sysRootsErr):
		return true
	}
	return strings.Contains(err.Error(), "tls: ")
}

func isConnection(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}
