package api

import (
	"errors"
	"io"
	"path/filepath"
	"strings"

	"github.com/example/presence-chat/events"
	"github.com/example/presence-chat/modules/storage"
	"github.com/gofiber/fiber/v2"
)

// progressStep is the number of bytes between two progress reports.
const progressStep = 256 << 10

// contentTypeByExt maps file extensions to MIME types.
var contentTypeByExt = map[string]string{
	".txt":  "text/plain",
	".html": "text/html",
	".htm":  "text/html",
	".css":  "text/css",
	".js":   "application/javascript",
	".json": "application/json",
	".xml":  "application/xml",
	".pdf":  "application/pdf",
	".zip":  "application/zip",
	".tar":  "application/x-tar",
	".gz":   "application/gzip",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".svg":  "image/svg+xml",
	".webp": "image/webp",
	".mp3":  "audio/mpeg",
	".ogg":  "audio/ogg",
	".wav":  "audio/wav",
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
	".webm": "video/webm",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".xls":  "application/vnd.ms-excel",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
}

// detectContentType returns the MIME type for a filename based on its extension.
func detectContentType(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if contentType, ok := contentTypeByExt[ext]; ok {
		return contentType
	}
	return "application/octet-stream"
}

// mainType classifies a MIME type into the file kinds rendered by clients.
func mainType(contentType string) string {
	major, _, _ := strings.Cut(contentType, "/")
	switch major {
	case "image", "video", "audio":
		return major
	}
	return "file"
}

// progressReader reports how many bytes have been read every progressStep
// bytes. The first report carries first=true.
type progressReader struct {
	r        io.Reader
	total    int64
	read     int64
	reported int64
	started  bool
	report   func(uploaded, total int64, first bool)
}

func newProgressReader(r io.Reader, total int64, report func(uploaded, total int64, first bool)) *progressReader {
	return &progressReader{r: r, total: total, report: report}
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.read += int64(n)
	if !p.started || p.read-p.reported >= progressStep {
		p.emit()
	}
	return n, err
}

// finish emits a last report unless everything read was already reported.
func (p *progressReader) finish() {
	if !p.started || p.read > p.reported {
		p.emit()
	}
}

func (p *progressReader) emit() {
	first := !p.started
	p.started = true
	p.reported = p.read
	p.report(p.read, p.total, first)
}

// uploadFile handles POST /api/v1/rooms/:name/files?userId=.
func (m *APIModule) uploadFile(c *fiber.Ctx) error {
	roomName := c.Params("name")

	if m.files == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(ErrorResponse{
			Error:   "uploads_disabled",
			Message: "File uploads are not configured",
		})
	}
	userID, err := queryUserID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Error:   "invalid_request",
			Message: err.Error(),
		})
	}
	if !storage.ValidKeySegment(roomName) {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Error:   "invalid_request",
			Message: "Room name cannot be used for file storage",
		})
	}
	if ok, err := m.requireMember(c, roomName, userID); !ok {
		return err
	}

	header, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Error:   "invalid_request",
			Message: "No file provided",
		})
	}
	if m.config.MaxUploadSize > 0 && header.Size > m.config.MaxUploadSize {
		return c.Status(fiber.StatusRequestEntityTooLarge).JSON(ErrorResponse{
			Error:   "too_large",
			Message: "File exceeds maximum upload size",
		})
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = detectContentType(header.Filename)
	}

	file, err := header.Open()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Error:   "invalid_request",
			Message: "Failed to read uploaded file",
		})
	}
	defer file.Close()

	progress := newProgressReader(file, header.Size, func(uploaded, total int64, first bool) {
		m.publishProgress(events.FileProgressEvent{
			UserID:       userID,
			RoomName:     roomName,
			UploadedSize: uploaded,
			FileSize:     total,
			FirstSend:    first,
		})
	})

	stored, err := m.files.Upload(c.UserContext(), roomName, header.Filename, contentType, progress)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidRoomName) {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
				Error:   "invalid_request",
				Message: "Room name cannot be used for file storage",
			})
		}
		m.logger.Error("Failed to store file", "room", roomName, "file", header.Filename, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Error:   "upload_failed",
			Message: "Failed to store file",
		})
	}
	progress.finish()

	m.logger.Info("File uploaded", "room", roomName, "userId", userID, "key", stored.Key, "size", stored.Size)
	return c.Status(fiber.StatusCreated).JSON(UploadResponse{
		Success: true,
		Store:   stored.Key,
		Size:    stored.Size,
		Type:    mainType(stored.ContentType),
		File:    stored.Name,
	})
}

func (m *APIModule) publishProgress(ev events.FileProgressEvent) {
	if m.eventBus == nil {
		return
	}
	if err := events.FileProgressV1.Publish(m.eventBus, ev, nil); err != nil {
		m.logger.Warn("Failed to publish upload progress", "room", ev.RoomName, "error", err)
	}
}
