// Package analysis submits captured media to the remote authenticity service
// and decodes its verdicts.
//
// Each Analyze call is a single multipart POST to /analyze-image or
// /analyze-video carrying the payload in the "file" field and the caller's
// bearer token. Nothing is retained after the call returns. Non-2xx responses
// surface as services.ErrRemoteRejected with the server's detail message;
// transport failures surface as services.ErrUnreachable. Payloads that the
// server would refuse on size or type are rejected locally without a request.
package analysis
