package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"

	"github.com/gmsas95/medminder/internal/backup"
	apperrors "github.com/gmsas95/medminder/internal/errors"
	"github.com/gmsas95/medminder/internal/store"
	"go.uber.org/zap"
)

const (
	// FolderName is the Drive folder holding the backup
	FolderName = "MedicineReminderApp"
	// BackupFile is the name of the backup inside FolderName
	BackupFile = "medminder-backup.json"

	folderMime = "application/vnd.google-apps.folder"
)

type driveFile struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (s *Service) findFile(ctx context.Context, c *http.Client, query string) (*driveFile, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("spaces", "drive")
	q.Set("fields", "files(id, name)")

	var res struct {
		Files []driveFile `json:"files"`
	}
	if err := do(ctx, c, http.MethodGet, s.endpoints.Drive+"/files?"+q.Encode(), nil, "", &res); err != nil {
		return nil, err
	}
	if len(res.Files) == 0 {
		return nil, nil
	}
	return &res.Files[0], nil
}

// ensureFolder finds or creates the app folder
func (s *Service) ensureFolder(ctx context.Context, c *http.Client) (string, error) {
	f, err := s.findFile(ctx, c, fmt.Sprintf("name='%s' and mimeType='%s' and trashed=false", FolderName, folderMime))
	if err != nil {
		return "", err
	}
	if f == nil {
		f = &driveFile{}
		meta := map[string]string{"name": FolderName, "mimeType": folderMime}
		if err := doJSON(ctx, c, http.MethodPost, s.endpoints.Drive+"/files?fields=id", meta, f); err != nil {
			return "", fmt.Errorf("failed to create folder: %w", err)
		}
		s.logger.Info("Created Drive folder", zap.String("folder_id", f.ID))
	}
	if err := s.store.SaveSetting(ctx, store.SettingDriveFolderID, f.ID); err != nil {
		return "", err
	}
	return f.ID, nil
}

func (s *Service) findBackup(ctx context.Context, c *http.Client, folderID string) (*driveFile, error) {
	return s.findFile(ctx, c, fmt.Sprintf("name='%s' and '%s' in parents and trashed=false", BackupFile, folderID))
}

// UploadDrive writes the JSON backup to the app folder, replacing the
// previous upload
func (s *Service) UploadDrive(ctx context.Context) error {
	return s.run(ctx, OpDriveUpload, func(ctx context.Context, c *http.Client) (string, error) {
		snap, err := backup.Export(ctx, s.store)
		if err != nil {
			return "", err
		}
		var content bytes.Buffer
		if err := backup.Encode(&content, snap, backup.JSON); err != nil {
			return "", err
		}

		folderID, err := s.ensureFolder(ctx, c)
		if err != nil {
			return "", err
		}
		existing, err := s.findBackup(ctx, c, folderID)
		if err != nil {
			return "", err
		}

		meta := map[string]interface{}{"name": BackupFile}
		method, target := http.MethodPost, s.endpoints.DriveUpload+"/files?uploadType=multipart&fields=id"
		if existing != nil {
			method = http.MethodPatch
			target = s.endpoints.DriveUpload + "/files/" + url.PathEscape(existing.ID) + "?uploadType=multipart&fields=id"
		} else {
			meta["parents"] = []string{folderID}
		}

		body, contentType, err := multipartRelated(meta, "application/json", content.Bytes())
		if err != nil {
			return "", err
		}
		var f driveFile
		if err := do(ctx, c, method, target, body, contentType, &f); err != nil {
			return "", fmt.Errorf("failed to upload backup: %w", err)
		}
		if err := s.store.SaveSetting(ctx, store.SettingDriveFileID, f.ID); err != nil {
			return "", err
		}
		return fmt.Sprintf("uploaded %d medicines to %s", len(snap.Medicines), f.ID), nil
	})
}

// DownloadDrive restores the database from the uploaded backup
func (s *Service) DownloadDrive(ctx context.Context) error {
	return s.run(ctx, OpDriveDownload, func(ctx context.Context, c *http.Client) (string, error) {
		folderID, err := s.ensureFolder(ctx, c)
		if err != nil {
			return "", err
		}
		f, err := s.findBackup(ctx, c, folderID)
		if err != nil {
			return "", err
		}
		if f == nil {
			return "", apperrors.WithCause(apperrors.ErrNotFound, errors.New("no backup found in Google Drive"))
		}

		var content bytes.Buffer
		if err := do(ctx, c, http.MethodGet, s.endpoints.Drive+"/files/"+url.PathEscape(f.ID)+"?alt=media", nil, "", &content); err != nil {
			return "", fmt.Errorf("failed to download backup: %w", err)
		}
		snap, err := backup.Decode(&content, backup.JSON)
		if err != nil {
			return "", err
		}
		if err := backup.Import(ctx, s.store, snap); err != nil {
			return "", err
		}
		return fmt.Sprintf("restored %d medicines from %s", len(snap.Medicines), f.ID), nil
	})
}

// multipartRelated builds a Drive multipart upload body
func multipartRelated(meta interface{}, mediaType string, media []byte) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, "", err
	}
	part, err := w.CreatePart(textproto.MIMEHeader{"Content-Type": {"application/json; charset=UTF-8"}})
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(metaJSON); err != nil {
		return nil, "", err
	}

	part, err = w.CreatePart(textproto.MIMEHeader{"Content-Type": {mediaType}})
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(media); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, "multipart/related; boundary=" + w.Boundary(), nil
}
