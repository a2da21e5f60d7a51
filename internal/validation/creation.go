package validation

import (
	"errors"
	"io/fs"
	"strings"
)

func (v *Validator) validateCreation(r CreationResult) Outcome {
	if r.Error != "" {
		return failure("Error al crear archivo: %s", r.Error)
	}
	path := strings.TrimSpace(r.FilePath)
	if !r.FileCreated || path == "" {
		return failure("No se creó ningún archivo")
	}

	size := r.FileSize
	if v.fs != nil {
		info, err := v.fs.Stat(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return failure("El archivo no existe en disco: %s", path)
			}
			return failure("No se pudo verificar el archivo %s: %v", path, err)
		}
		size = info.Size()
	}

	minSize := v.rules.Thresholds.MinFileSize
	switch {
	case size == 0:
		return warning("Archivo vacío: %s", path)
	case size < minSize:
		return warning("Archivo demasiado pequeño: %s (%d bytes, mínimo %d)", path, size, minSize)
	case strings.TrimSpace(r.DownloadURL) == "":
		return warning("Archivo creado sin URL de descarga: %s (%d bytes)", path, size)
	}
	return success("Archivo creado correctamente: %s (%d bytes)", path, size)
}
