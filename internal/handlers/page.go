package handlers

import "html/template"

type page struct {
	Accept   string
	Message  string
	Label    string
	ImageSrc template.URL
}

var pageTmpl = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Skin Cancer Prediction</title>
<style>
body { font-family: sans-serif; max-width: 46rem; margin: 2rem auto; padding: 0 1rem; }
figure { margin: 1.5rem 0; text-align: center; }
figure img { max-width: 100%; }
.message { color: #b00020; }
</style>
</head>
<body>
<h1>Skin Cancer Prediction</h1>
<p>Select an image to check for signs of skin cancer.</p>
<form method="post" action="/" enctype="multipart/form-data">
<label for="file">Upload an Image</label>
<input id="file" type="file" name="file" accept="{{.Accept}}">
<button type="submit">Predict</button>
</form>
{{if .Message}}<p class="message">{{.Message}}</p>{{end}}
{{if .ImageSrc}}<figure><img src="{{.ImageSrc}}" alt="Uploaded Image"><figcaption>Uploaded Image</figcaption></figure>{{end}}
{{if .Label}}<h2 style="text-align: center;">{{.Label}}</h2>{{end}}
</body>
</html>
`))
